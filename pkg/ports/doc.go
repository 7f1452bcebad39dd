/*
Package ports defines the driven-port interfaces the orchestrator core depends
on, decoupling the control-plane logic from broker transports and storage.

Adapters (Redis, in-memory) implement these interfaces under
internal/adapters. The contract test in this package lets every adapter prove
it honors the same semantics.
*/
package ports
