/*
Package types defines the plain records shared across Lanlink packages.

  - WorkerName: stable registry key for a supervised worker (edge, broadcast,
    fileserver)
  - Member: one overlay group participant (address, display name,
    connectivity mode) with structural equality
  - WorkerStatus: running flag and PID reported to callers
  - RunRecord, NATRecord: history entries persisted by the storage package

The package has no dependencies on other Lanlink packages.
*/
package types
