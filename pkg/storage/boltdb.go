package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/lanlink/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketRuns = []byte("runs")
	bucketNAT  = []byte("nat")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) lanlink.db under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "lanlink.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketNAT} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(id), data)
}

// Run operations

// SaveRun inserts or replaces a run record
func (s *BoltStore) SaveRun(run *types.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run record has no id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketRuns, run.ID, run)
	})
}

func (s *BoltStore) GetRun(id string) (*types.RunRecord, error) {
	var run types.RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: run %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs newest first. An empty worker matches every worker;
// a limit of zero or less returns everything.
func (s *BoltStore) ListRuns(worker types.WorkerName, limit int) ([]*types.RunRecord, error) {
	var runs []*types.RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var run types.RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if worker == "" || run.Worker == worker {
				runs = append(runs, &run)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return truncate(runs, limit), nil
}

// NAT operations

func (s *BoltStore) SaveNATRecord(record *types.NATRecord) error {
	if record.ID == "" {
		return fmt.Errorf("nat record has no id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketNAT, record.ID, record)
	})
}

// ListNATRecords returns classifications newest first
func (s *BoltStore) ListNATRecords(limit int) ([]*types.NATRecord, error) {
	var records []*types.NATRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNAT).ForEach(func(k, v []byte) error {
			var record types.NATRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].DetectedAt.After(records[j].DetectedAt)
	})
	return truncate(records, limit), nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
