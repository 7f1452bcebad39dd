// Package memory implements ports.Broker with in-process queues. It backs
// unit tests and the demo mode, where stub workers run in the same process.
package memory

import (
	"context"
	"sync"

	"github.com/hdlforge/crucible/pkg/domain"
	"github.com/hdlforge/crucible/pkg/ports"
)

// Broker is an in-process, FIFO-per-queue message broker.
type Broker struct {
	mu     sync.Mutex
	queues map[string][][]byte
	wake   chan struct{}
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		queues: make(map[string][][]byte),
		wake:   make(chan struct{}),
	}
}

// Publish appends the message to the named queue and wakes consumers.
func (b *Broker) Publish(ctx context.Context, queue string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return domain.ErrQueueClosed
	}
	b.queues[queue] = append(b.queues[queue], append([]byte(nil), body...))
	close(b.wake)
	b.wake = make(chan struct{})
	return nil
}

// Consume returns a delivery channel for the named queue. The channel closes
// when ctx is cancelled or the broker is closed.
func (b *Broker) Consume(ctx context.Context, queue string) (<-chan ports.Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, domain.ErrQueueClosed
	}
	b.mu.Unlock()

	out := make(chan ports.Delivery)
	go func() {
		defer close(out)
		for {
			body, wake, ok := b.pop(queue)
			if !ok {
				return
			}
			if body == nil {
				select {
				case <-ctx.Done():
					return
				case <-wake:
					continue
				}
			}
			select {
			case <-ctx.Done():
				// Undelivered message goes back to the queue head.
				b.requeue(queue, body)
				return
			case out <- &delivery{broker: b, body: body}:
			}
		}
	}()
	return out, nil
}

// pop removes the oldest message, or returns the wake channel to wait on.
func (b *Broker) pop(queue string) (body []byte, wake chan struct{}, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, false
	}
	q := b.queues[queue]
	if len(q) == 0 {
		return nil, b.wake, true
	}
	body = q[0]
	b.queues[queue] = q[1:]
	return body, nil, true
}

func (b *Broker) requeue(queue string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queues[queue] = append([][]byte{body}, b.queues[queue]...)
}

// DeadLetters returns the parked dead-letter bodies, oldest first.
func (b *Broker) DeadLetters(ctx context.Context) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.queues[ports.QueueDeadLetter]))
	for i, body := range b.queues[ports.QueueDeadLetter] {
		out[i] = append([]byte(nil), body...)
	}
	return out, nil
}

// Len reports the number of messages waiting on a queue.
func (b *Broker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Close shuts the broker; consumers drain and stop.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.wake)
	}
	return nil
}

type delivery struct {
	broker *Broker
	body   []byte

	mu      sync.Mutex
	settled bool
}

func (d *delivery) Body() []byte { return d.body }

func (d *delivery) Ack(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settled = true
	return nil
}

func (d *delivery) Reject(ctx context.Context, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return nil
	}
	d.settled = true
	parked, err := ports.WrapDeadLetter(d.body, reason)
	if err != nil {
		return err
	}
	return d.broker.Publish(ctx, ports.QueueDeadLetter, parked)
}

var _ ports.Broker = (*Broker)(nil)
var _ ports.DeadLetterReader = (*Broker)(nil)
