// Package redis implements ports.Broker on Redis lists.
//
// Each queue is a list: publishers LPUSH, the consumer BRPOPLPUSH into a
// per-queue processing list so an unsettled message survives a consumer
// crash and is redelivered. Ack removes the message from the processing
// list; Reject moves it to the dead-letter queue annotated with a reason.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/hdlforge/crucible/pkg/ports"
)

// Broker is the Redis-backed queue transport.
type Broker struct {
	client *backend.Client
	prefix string
	poll   time.Duration
}

// Option configures the broker.
type Option func(*Broker)

// WithPrefix namespaces every queue key.
func WithPrefix(prefix string) Option {
	return func(b *Broker) { b.prefix = prefix }
}

// WithPollInterval sets the blocking-pop timeout used to re-check ctx.
func WithPollInterval(d time.Duration) Option {
	return func(b *Broker) { b.poll = d }
}

// New connects a broker to a Redis server.
func New(address, password string, db int, opts ...Option) *Broker {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Broker {
	b := &Broker{
		client: client,
		prefix: "crucible:",
		poll:   time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) key(queue string) string {
	return b.prefix + queue
}

func (b *Broker) processingKey(queue string) string {
	return b.prefix + queue + ":processing"
}

// Publish enqueues one message.
func (b *Broker) Publish(ctx context.Context, queue string, body []byte) error {
	if err := b.client.LPush(ctx, b.key(queue), body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Consume streams deliveries from the named queue until ctx is cancelled.
// Each message is atomically moved to the processing list before delivery.
func (b *Broker) Consume(ctx context.Context, queue string) (<-chan ports.Delivery, error) {
	out := make(chan ports.Delivery)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			body, err := b.client.BRPopLPush(ctx, b.key(queue), b.processingKey(queue), b.poll).Result()
			if err != nil {
				if errors.Is(err, backend.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				// Transient transport error; keep polling.
				time.Sleep(b.poll)
				continue
			}
			d := &delivery{broker: b, queue: queue, body: []byte(body)}
			select {
			case <-ctx.Done():
				// The message stays on the processing list for recovery.
				return
			case out <- d:
			}
		}
	}()
	return out, nil
}

// Recover moves messages stranded on a queue's processing list (by a prior
// crashed consumer) back onto the queue.
func (b *Broker) Recover(ctx context.Context, queue string) (int, error) {
	moved := 0
	for {
		_, err := b.client.RPopLPush(ctx, b.processingKey(queue), b.key(queue)).Result()
		if errors.Is(err, backend.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover %s: %w", queue, err)
		}
		moved++
	}
}

// DeadLetters returns the parked dead-letter bodies, oldest first.
func (b *Broker) DeadLetters(ctx context.Context) ([][]byte, error) {
	vals, err := b.client.LRange(ctx, b.key(ports.QueueDeadLetter), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	// LPUSH keeps the newest at the head; report oldest first.
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[len(vals)-1-i] = []byte(v)
	}
	return out, nil
}

// Close releases the client.
func (b *Broker) Close() error {
	return b.client.Close()
}

type delivery struct {
	broker *Broker
	queue  string
	body   []byte
}

func (d *delivery) Body() []byte { return d.body }

// Ack removes the message from the processing list.
func (d *delivery) Ack(ctx context.Context) error {
	if err := d.broker.client.LRem(ctx, d.broker.processingKey(d.queue), 1, string(d.body)).Err(); err != nil {
		return fmt.Errorf("ack on %s: %w", d.queue, err)
	}
	return nil
}

// Reject moves the message from the processing list to the dead-letter
// queue with redelivery disabled.
func (d *delivery) Reject(ctx context.Context, reason string) error {
	parked, err := ports.WrapDeadLetter(d.body, reason)
	if err != nil {
		return err
	}
	pipe := d.broker.client.TxPipeline()
	pipe.LRem(ctx, d.broker.processingKey(d.queue), 1, string(d.body))
	pipe.LPush(ctx, d.broker.key(ports.QueueDeadLetter), parked)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-letter on %s: %w", d.queue, err)
	}
	return nil
}

var _ ports.Broker = (*Broker)(nil)
var _ ports.DeadLetterReader = (*Broker)(nil)
