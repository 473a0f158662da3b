/*
Package supervisor is the worker control surface of Lanlink.

A Supervisor owns the process registry and knows how to launch each worker
in the catalog:

	edge        overlay edge client, joins the configured group
	broadcast   relays LAN broadcasts onto the overlay adapter
	fileserver  serves a directory (requires the "path" parameter)

Start and Stop are idempotent: starting a running worker keeps the existing
process, stopping an absent worker succeeds. Edge queries (EdgeStatus,
VirtualAddress, CurrentGroup, Members) go through the edge's management
port while holding the registry entry exclusively, so a concurrent Stop
waits for them.

Every launch is recorded as a run in the store when one is configured. An
unexpected exit closes the run with the exit reason, bumps
lanlink_worker_exits_total and publishes a worker.exited event.

	sup := supervisor.New(cfg, supervisor.WithStore(store), supervisor.WithBroker(broker))
	defer sup.Shutdown()

	if _, err := sup.Start("edge", nil); err != nil {
		return err
	}
	members, err := sup.Members(ctx)
*/
package supervisor
