package memory_test

import (
	"testing"

	"github.com/hdlforge/crucible/internal/adapters/memory"
	"github.com/hdlforge/crucible/pkg/ports"
)

func TestMemoryBroker_Contract(t *testing.T) {
	ports.RunBrokerContract(t, func(t *testing.T) ports.Broker {
		return memory.NewBroker()
	})
}
