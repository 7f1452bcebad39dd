package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBrokerContract runs a suite of tests verifying that a Broker
// implementation adheres to the interface contract. The factory must return a
// fresh, empty broker per invocation.
func RunBrokerContract(t *testing.T, factory func(t *testing.T) Broker) {
	ctx := context.Background()

	t.Run("PublishConsumeOrder", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		for i := 0; i < 3; i++ {
			require.NoError(t, b.Publish(ctx, QueueResults, []byte(fmt.Sprintf("msg-%d", i))))
		}

		deliveries, err := b.Consume(ctx, QueueResults)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			d := receive(t, deliveries)
			assert.Equal(t, fmt.Sprintf("msg-%d", i), string(d.Body()), "FIFO order per queue")
			require.NoError(t, d.Ack(ctx))
		}
	})

	t.Run("QueuesAreIndependent", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		require.NoError(t, b.Publish(ctx, QueueAgentTasks, []byte("agent")))
		require.NoError(t, b.Publish(ctx, QueueSimulationTasks, []byte("sim")))

		agents, err := b.Consume(ctx, QueueAgentTasks)
		require.NoError(t, err)
		d := receive(t, agents)
		assert.Equal(t, "agent", string(d.Body()))
		require.NoError(t, d.Ack(ctx))

		sims, err := b.Consume(ctx, QueueSimulationTasks)
		require.NoError(t, err)
		d = receive(t, sims)
		assert.Equal(t, "sim", string(d.Body()))
		require.NoError(t, d.Ack(ctx))
	})

	t.Run("RejectRoutesToDeadLetterQueue", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		require.NoError(t, b.Publish(ctx, QueueResults, []byte("poison")))

		deliveries, err := b.Consume(ctx, QueueResults)
		require.NoError(t, err)
		d := receive(t, deliveries)
		require.NoError(t, d.Reject(ctx, "schema mismatch"))

		reader, ok := b.(DeadLetterReader)
		require.True(t, ok, "contract brokers must expose the dead-letter queue")
		parked, err := reader.DeadLetters(ctx)
		require.NoError(t, err)
		require.Len(t, parked, 1)
		assert.Contains(t, string(parked[0]), "poison")
		assert.Contains(t, string(parked[0]), "schema mismatch")
	})

	t.Run("ConsumeStopsOnCancel", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		cctx, cancel := context.WithCancel(ctx)
		deliveries, err := b.Consume(cctx, QueueResults)
		require.NoError(t, err)
		cancel()

		select {
		case _, open := <-deliveries:
			assert.False(t, open, "channel should close after cancellation")
		case <-time.After(2 * time.Second):
			t.Fatal("consume channel did not close after cancellation")
		}
	})
}

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		if !ok {
			t.Fatal("delivery channel closed unexpectedly")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}
