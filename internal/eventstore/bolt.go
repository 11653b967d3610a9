package eventstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lprior-repo/oya-sub007/internal/errs"
	"github.com/lprior-repo/oya-sub007/internal/ids"
	"go.etcd.io/bbolt"
)

var (
	bucketEvents     = []byte("events")      // u64 sequence -> marshaled Event
	bucketBeadIndex  = []byte("events_bead")  // bead_id || u64 sequence -> sequence (range-scannable)
	bucketLogCounter = []byte("events_state") // "sequence" -> u64 last sequence
)

// BoltStore is the durable embedded-KV backend. Every Append runs inside a
// single synchronous-fsync transaction so a crash after Append returns never
// loses the event (bbolt.Options{NoSync: false} is the default and is kept
// explicit here).
type BoltStore struct {
	mu       sync.Mutex // serializes appends; the store is linearizable per instance
	db       *bbolt.DB
	sequence uint64
}

// OpenBoltStore opens (creating if absent) the embedded KV file at path and
// prepares its buckets.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:      1 * time.Second,
		NoSync:       false,
		FreelistType: bbolt.FreelistArrayType,
	})
	if err != nil {
		return nil, errs.StoreFailed("open event log", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketEvents, bucketBeadIndex, bucketLogCounter} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errs.StoreFailed("init event log buckets", err)
	}
	s := &BoltStore{db: db}
	_ = db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketLogCounter).Get([]byte("sequence"))
		if len(v) == 8 {
			s.sequence = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return s, nil
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func beadIndexKey(beadID ids.ID, seq uint64) []byte {
	b := make([]byte, 0, 26+8)
	b = append(b, []byte(beadID.String())...)
	b = append(b, seqKey(seq)...)
	return b
}

func (s *BoltStore) Append(_ context.Context, ev Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequence++
	ev.Sequence = s.sequence
	if ev.ID.IsNil() {
		ev.ID = ids.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		s.sequence--
		return Event{}, errs.SerializationError(fmt.Sprintf("marshal event: %v", err))
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketEvents).Put(seqKey(ev.Sequence), data); err != nil {
			return err
		}
		if !ev.BeadID.IsNil() {
			if err := tx.Bucket(bucketBeadIndex).Put(beadIndexKey(ev.BeadID, ev.Sequence), seqKey(ev.Sequence)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketLogCounter).Put([]byte("sequence"), seqKey(s.sequence))
	})
	if err != nil {
		s.sequence--
		return Event{}, errs.StoreFailed("append event", err)
	}
	return ev, nil
}

func (s *BoltStore) ReadForBead(_ context.Context, beadID ids.ID) ([]Event, error) {
	var out []Event
	prefix := []byte(beadID.String())
	err := s.db.View(func(tx *bbolt.Tx) error {
		evB := tx.Bucket(bucketEvents)
		c := tx.Bucket(bucketBeadIndex).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			raw := evB.Get(v)
			if raw == nil {
				continue
			}
			var ev Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, errs.StoreFailed("read events for bead", err)
	}
	return out, nil
}

func (s *BoltStore) ReadFrom(_ context.Context, from uint64, limit int) ([]Event, error) {
	if from == 0 {
		from = 1
	}
	var out []Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		n := 0
		for k, v := c.Seek(seqKey(from)); k != nil; k, v = c.Next() {
			if limit > 0 && n >= limit {
				break
			}
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			out = append(out, ev)
			n++
		}
		return nil
	})
	if err != nil {
		return nil, errs.StoreFailed("read event range", err)
	}
	return out, nil
}

func (s *BoltStore) LastSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

func (s *BoltStore) Close() error {
	return s.db.Close()
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
