// Package persistence provides the bbolt-backed durable stores this module
// needs: checkpoint snapshots and the idempotency ledger, using a
// bucket-per-concern convention (one bucket per data kind, fsync-durable
// writes, a single *bbolt.DB shared across them).
package persistence

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/lprior-repo/oya-sub007/internal/checkpoint"
	"github.com/lprior-repo/oya-sub007/internal/errs"
	"github.com/lprior-repo/oya-sub007/internal/idempotency"
	"github.com/lprior-repo/oya-sub007/internal/ids"
)

var (
	bucketCheckpoints = []byte("checkpoints")
	bucketIdempotency = []byte("idempotency")
)

// Store is the durable backend for checkpoints and the idempotency ledger,
// opened once and shared across both concerns over one *bbolt.DB.
type Store struct {
	db *bbolt.DB
	mu sync.Mutex
}

// Open opens (creating if absent) a bbolt database at path and ensures its
// buckets exist.
func Open(path string) (*Store, error) {
	opts := &bbolt.Options{
		Timeout:      time.Second,
		NoSync:       false,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketCheckpoints, bucketIdempotency} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// checkpointKey orders checkpoints for a workflow by (phase, then within a
// phase by event sequence), so ListCheckpoints can range-scan a workflow's
// prefix and get results back in a stable, inspectable order.
func checkpointKey(workflowID, phaseID ids.ID, eventSequence uint64) []byte {
	buf := make([]byte, 0, len(workflowID)*2+8)
	buf = append(buf, []byte(workflowID.String())...)
	buf = append(buf, ':')
	buf = append(buf, []byte(phaseID.String())...)
	buf = append(buf, ':')
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], eventSequence)
	buf = append(buf, seq[:]...)
	return buf
}

func checkpointPrefix(workflowID ids.ID) []byte {
	return append([]byte(workflowID.String()), ':')
}

type storedCheckpoint struct {
	WorkflowID    string `json:"workflow_id"`
	PhaseID       string `json:"phase_id"`
	EventSequence uint64 `json:"event_sequence"`
	Body          []byte `json:"body"`
}

// SaveCheckpoint implements checkpoint.Store.
func (s *Store) SaveCheckpoint(ctx context.Context, cp checkpoint.Checkpoint) error {
	data, err := json.Marshal(storedCheckpoint{
		WorkflowID:    cp.WorkflowID.String(),
		PhaseID:       cp.PhaseID.String(),
		EventSequence: cp.EventSequence,
		Body:          cp.Body,
	})
	if err != nil {
		return err
	}
	key := checkpointKey(cp.WorkflowID, cp.PhaseID, cp.EventSequence)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Put(key, data)
	})
}

// LoadCheckpoint implements checkpoint.Store: it returns the
// highest-event-sequence checkpoint on record for the given phase.
func (s *Store) LoadCheckpoint(ctx context.Context, workflowID, phaseID ids.ID) (checkpoint.Checkpoint, bool, error) {
	var found *storedCheckpoint
	phasePrefix := append(checkpointPrefix(workflowID), append([]byte(phaseID.String()), ':')...)

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketCheckpoints).Cursor()
		for k, v := c.Seek(phasePrefix); k != nil && hasPrefix(k, phasePrefix); k, v = c.Next() {
			var sc storedCheckpoint
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if found == nil || sc.EventSequence > found.EventSequence {
				cpCopy := sc
				found = &cpCopy
			}
		}
		return nil
	})
	if err != nil {
		return checkpoint.Checkpoint{}, false, err
	}
	if found == nil {
		return checkpoint.Checkpoint{}, false, nil
	}
	return checkpoint.Checkpoint{
		WorkflowID:    workflowID,
		PhaseID:       phaseID,
		EventSequence: found.EventSequence,
		Body:          found.Body,
	}, true, nil
}

// ListCheckpoints implements checkpoint.Store.
func (s *Store) ListCheckpoints(ctx context.Context, workflowID ids.ID) ([]checkpoint.Checkpoint, error) {
	prefix := checkpointPrefix(workflowID)
	var out []checkpoint.Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketCheckpoints).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var sc storedCheckpoint
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			phaseID, err := ids.Parse(sc.PhaseID)
			if err != nil {
				return err
			}
			out = append(out, checkpoint.Checkpoint{
				WorkflowID:    workflowID,
				PhaseID:       phaseID,
				EventSequence: sc.EventSequence,
				Body:          sc.Body,
			})
		}
		return nil
	})
	return out, err
}

// ClearCheckpointsAfter implements checkpoint.Store.
func (s *Store) ClearCheckpointsAfter(ctx context.Context, workflowID ids.ID, eventSequence uint64) error {
	prefix := checkpointPrefix(workflowID)
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var sc storedCheckpoint
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.EventSequence > eventSequence {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

type storedEntry struct {
	Status idempotency.Status `json:"status"`
	Result json.RawMessage    `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Load implements idempotency.Store.
func (s *Store) Load(ctx context.Context, key uuid.UUID) (idempotency.Entry, bool, error) {
	var entry idempotency.Entry
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketIdempotency).Get(key[:])
		if v == nil {
			return nil
		}
		var se storedEntry
		if err := json.Unmarshal(v, &se); err != nil {
			return err
		}
		entry = idempotency.Entry{Key: key, Status: se.Status, Result: se.Result, Error: se.Error}
		found = true
		return nil
	})
	if err != nil {
		return idempotency.Entry{}, false, errs.StoreFailed("load idempotency entry", err)
	}
	return entry, found, nil
}

// Save implements idempotency.Store.
func (s *Store) Save(ctx context.Context, key uuid.UUID, entry idempotency.Entry) error {
	data, err := json.Marshal(storedEntry{Status: entry.Status, Result: entry.Result, Error: entry.Error})
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put(key[:], data)
	})
	if err != nil {
		return errs.StoreFailed("save idempotency entry", err)
	}
	return nil
}
