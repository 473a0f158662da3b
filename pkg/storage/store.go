package storage

import (
	"errors"

	"github.com/cuemby/lanlink/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("storage: record not found")

// Store keeps the history of worker runs and NAT classifications
type Store interface {
	// Runs
	SaveRun(run *types.RunRecord) error
	GetRun(id string) (*types.RunRecord, error)
	ListRuns(worker types.WorkerName, limit int) ([]*types.RunRecord, error)

	// NAT results
	SaveNATRecord(record *types.NATRecord) error
	ListNATRecords(limit int) ([]*types.NATRecord, error)

	// Utility
	Close() error
}
