/*
Package storage persists lanlink history in a BoltDB file.

# Layout

	<data_dir>/lanlink.db
	├── runs   run ID → RunRecord (JSON)
	└── nat    record ID → NATRecord (JSON)

A RunRecord is written when a worker starts and rewritten when it is stopped
or exits on its own. NAT records are append-only. Keys are UUIDs, so listings
sort by timestamp rather than key order.

# Usage

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(types.WorkerEdge, 20)

BoltDB takes an exclusive file lock: only one process may open the database.
*/
package storage
