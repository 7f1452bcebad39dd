/*
Package domain contains the core domain models for the Crucible orchestrator.

It defines the fundamental entities of the verification pipeline: design Nodes,
the Stage vocabulary, task and result envelopes, the error taxonomy, and the
lifecycle events emitted by the run loop. This package is kept pure and free of
external dependencies like I/O or persistence, following Hexagonal Architecture
principles.

# Key Entities

  - Node: one hardware module's scheduling unit, tracked through the stage
    state machine.
  - Stage: one step in a node's verification pipeline (lint, simulate, ...).
  - TaskEnvelope / ResultEnvelope: the wire contracts exchanged with agents
    and tool workers over the queues.
  - ErrorClass: the failure taxonomy that drives the retry/dead-letter policy.
*/
package domain
