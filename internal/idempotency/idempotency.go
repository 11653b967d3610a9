// Package idempotency implements deterministic UUID v5 key derivation plus
// a result cache backed by a persisted ledger,
// so that retried or concurrently-duplicated calls collapse into exactly
// one execution of the underlying operation.
package idempotency

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Status is the lifecycle of a ledger entry.
type Status int

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
)

// Entry is the persisted record for one idempotency key. Once written with
// Status != Pending, an entry is read-only: the same key never executes its
// operation twice.
type Entry struct {
	Key    uuid.UUID       `json:"key"`
	Status Status          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Store is the persisted side of the idempotency ledger. Implementations
// (see the persistence package) back this with the embedded KV.
type Store interface {
	Load(ctx context.Context, key uuid.UUID) (Entry, bool, error)
	Save(ctx context.Context, key uuid.UUID, entry Entry) error
}

// Key computes the deterministic UUID v5 idempotency key over
// bead_id || canonical_serialization(input). The same (beadID, input) pair
// always yields the same key; a different beadID or a different
// canonicalized input yields a different key.
func Key(beadID string, input any) (uuid.UUID, error) {
	canon, err := Canonicalize(input)
	if err != nil {
		return uuid.Nil, err
	}
	name := make([]byte, 0, len(beadID)+len(canon))
	name = append(name, beadID...)
	name = append(name, canon...)
	return uuid.NewSHA1(uuid.NameSpaceDNS, name), nil
}

// Canonicalize produces a byte-identical representation for two otherwise-
// equal values: json.Marshal already serializes map keys in sorted order
// and struct fields in declaration order, so marshaling is sufficient once
// callers pass values of a stable, field-ordered type.
func Canonicalize(input any) ([]byte, error) {
	return json.Marshal(input)
}

// Keeper serializes execution per key: N concurrent callers with the same
// key collapse into exactly one call to op, realized via a promise-per-key
// map guarded by a mutex (the in-flight caller computes the result, late
// arrivals wait on it instead of invoking op themselves).
type Keeper struct {
	store Store

	mu       sync.Mutex
	inflight map[uuid.UUID]*call
}

type call struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

// NewKeeper wraps store with in-process call collapsing.
func NewKeeper(store Store) *Keeper {
	return &Keeper{store: store, inflight: make(map[uuid.UUID]*call)}
}

// ExecuteIdempotent runs op at most once for key: it first consults the
// cache (the in-flight map), then the persistent ledger, and only then
// invokes op, persisting and caching the result before returning it.
func (k *Keeper) ExecuteIdempotent(ctx context.Context, key uuid.UUID, op func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	k.mu.Lock()
	if c, ok := k.inflight[key]; ok {
		k.mu.Unlock()
		<-c.done
		return c.result, c.err
	}
	k.mu.Unlock()

	if entry, ok, err := k.store.Load(ctx, key); err != nil {
		return nil, err
	} else if ok {
		switch entry.Status {
		case StatusCompleted:
			return entry.Result, nil
		case StatusFailed:
			return nil, &ledgerError{msg: entry.Error}
		}
	}

	k.mu.Lock()
	if c, ok := k.inflight[key]; ok {
		k.mu.Unlock()
		<-c.done
		return c.result, c.err
	}
	c := &call{done: make(chan struct{})}
	k.inflight[key] = c
	k.mu.Unlock()

	result, err := op(ctx)
	c.result, c.err = result, err

	status := StatusCompleted
	errMsg := ""
	if err != nil {
		status = StatusFailed
		errMsg = err.Error()
	}
	_ = k.store.Save(ctx, key, Entry{Key: key, Status: status, Result: result, Error: errMsg})

	close(c.done)
	k.mu.Lock()
	delete(k.inflight, key)
	k.mu.Unlock()

	return result, err
}

type ledgerError struct{ msg string }

func (e *ledgerError) Error() string { return e.msg }
