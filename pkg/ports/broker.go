package ports

import (
	"context"
	"encoding/json"
)

// Well-known queue names. The names are part of the external contract shared
// with agents and tool workers.
const (
	QueueAgentTasks      = "agent_tasks"
	QueueProcessTasks    = "process_tasks"
	QueueSimulationTasks = "simulation_tasks"
	QueueResults         = "results"
	QueueDeadLetter      = "dead_letter_queue"
)

// Delivery is one message received from a queue. The consumer must settle it
// exactly once: Ack after the state mutation and ledger write are durable, or
// Reject to route it to the dead-letter queue with redelivery disabled.
//
// A consumer crash before settlement must cause redelivery.
type Delivery interface {
	// Body returns the raw message payload.
	Body() []byte

	// Ack marks the message as processed. It is removed from the queue and
	// never redelivered.
	Ack(ctx context.Context) error

	// Reject negatively acknowledges the message without redelivery and
	// routes it to the dead-letter queue, annotated with a reason.
	Reject(ctx context.Context, reason string) error
}

// Broker is the transport the orchestrator publishes tasks to and consumes
// results from. End-to-end delivery guarantees (reconnects, publisher
// confirms) belong to the adapter, not to callers.
type Broker interface {
	// Publish enqueues a message on the named queue. Exactly one publish
	// attempt is requested per call.
	Publish(ctx context.Context, queue string, body []byte) error

	// Consume returns a channel of deliveries from the named queue. The
	// channel closes when ctx is cancelled or the broker is closed.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	// Close releases the transport.
	Close() error
}

// DeadLetterRecord is the envelope adapters park on the dead-letter queue:
// the rejected message body annotated with the rejection reason.
type DeadLetterRecord struct {
	Reason string `json:"reason"`
	Body   string `json:"body"`
}

// WrapDeadLetter builds the parked form of a rejected message.
func WrapDeadLetter(body []byte, reason string) ([]byte, error) {
	return json.Marshal(DeadLetterRecord{Reason: reason, Body: string(body)})
}

// DeadLetterReader is implemented by adapters that can enumerate the
// dead-letter queue, used by the final report and by tests.
type DeadLetterReader interface {
	// DeadLetters returns the raw bodies currently parked on the
	// dead-letter queue, oldest first.
	DeadLetters(ctx context.Context) ([][]byte, error)
}
