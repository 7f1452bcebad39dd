package runtime

import (
	"github.com/hdlforge/crucible/pkg/domain"
	"github.com/hdlforge/crucible/pkg/ports"
)

// QueueFor maps a task's execution class to its destination queue. The router
// owns only this classification table; it holds no per-node state.
func QueueFor(class domain.ExecutionClass) string {
	switch class {
	case domain.ClassReasoning:
		return ports.QueueAgentTasks
	case domain.ClassLightDeterministic:
		return ports.QueueProcessTasks
	case domain.ClassHeavyDeterministic:
		return ports.QueueSimulationTasks
	}
	// Unknown classes are poison; routing them to the dead-letter queue keeps
	// them out of worker queues.
	return ports.QueueDeadLetter
}
