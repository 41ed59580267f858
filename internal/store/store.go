// Package store persists SettlementRequest/SettlementState pairs keyed by
// source_tx_hash, generalizing the teacher's TransactionStateStore interface
// (src/chainadapter/storage/store.go) from idempotency bookkeeping to the
// settlement record's full lifecycle with optimistic-concurrency updates.
package store

import (
	"errors"

	"github.com/yourusername/arcsign/internal/types"
)

// PutResult is the outcome of PutIfAbsent.
type PutResult int

const (
	Inserted PutResult = iota
	AlreadyExists
)

// UpdateResult is the outcome of UpdateState.
type UpdateResult int

const (
	Updated UpdateResult = iota
	NotFound
	Conflict
)

// ErrNotFound is returned by Get when no record exists for a hash.
var ErrNotFound = errors.New("store: record not found")

// UpdateFunc mutates a SettlementState, returning the new state to persist.
// It is invoked under the store's transaction after re-reading the current
// state, so it always sees the latest committed value.
type UpdateFunc func(current types.SettlementState) types.SettlementState

// Store is the durable key-value interface every backend implements. All
// methods MUST be safe for concurrent use.
type Store interface {
	// PutIfAbsent inserts a new record if source_tx_hash is unseen. It never
	// overwrites an existing record.
	PutIfAbsent(req types.SettlementRequest) (PutResult, error)

	// Get returns the record for a hash, or ErrNotFound.
	Get(sourceTxHash string) (types.Record, error)

	// UpdateState applies f to the current state under a transaction that
	// re-reads the pre-image. With expected nil, f is applied to whatever
	// state is current. With expected set, the update is applied only if the
	// current state's status, attempts and updated_at match it; otherwise
	// nothing is written and Conflict is returned with the current state.
	UpdateState(sourceTxHash string, expected *types.SettlementState, f UpdateFunc) (UpdateResult, types.SettlementState, error)

	// ListByStatus returns up to limit records with the given status,
	// oldest created_at first (so the processor can re-enqueue in order).
	ListByStatus(status types.Status, limit int) ([]types.Record, error)

	// CountByStatus returns the number of records per status.
	CountByStatus() (map[types.Status]int, error)

	// ListRecent returns up to limit records, newest first, for the
	// monitor's settlements listing.
	ListRecent(limit int) ([]types.Record, error)

	// Close releases backend resources.
	Close() error
}
