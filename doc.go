/*
Package crucible orchestrates an agent-driven RTL verification campaign.

A planner produces two documents: a design context describing every module's
interface contract, and a dependency DAG over those modules. Crucible walks
the DAG dependencies-first and drives each module through implementation,
lint, testbench generation, simulation, and acceptance, dispatching work over
typed queues to LLM agents and EDA tool workers and reacting to their results.

When a verification stage fails, the orchestrator runs a bounded analysis
loop: distill the failing log to an excerpt, reflect on the excerpt to form a
root-cause insight, and debug with that insight to patch the sources, then
re-enters verification. Structural failures and exhausted budgets park the
offending task on a dead-letter queue and fail the node; its dependents are
blocked rather than dispatched.

# Usage

	cfg := config.Default()
	cfg.DesignContext = "design_context.json"
	cfg.DAG = "dag.json"

	campaign, err := crucible.New(cfg, crucible.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer campaign.Close()

	report, err := campaign.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(report.Succeeded())

The broker is pluggable: the in-process adapter serves tests and demos, the
Redis adapter serves distributed workers. Both satisfy the contract in
pkg/ports.
*/
package crucible
