// Package updatelog declares the contract of the Update Log (spec.md §1):
// an append-only journal external to the Update Core, plus an in-memory
// reference implementation used by tests and by peer sync replay tests.
package updatelog

import (
	"context"

	"github.com/shardcore/updatecore/internal/updatemodel"
)

// State is the lifecycle state of the log, consulted by the writer close
// sequence (spec.md §4.C): a minimal commit is only attempted when the log
// is ACTIVE.
type State int

const (
	StateActive State = iota
	StateClosed
)

// Record is one entry appended to the log.
type Record struct {
	Version updatemodel.Version
	Op      Op
	Key     updatemodel.Key       // set for Add/Delete/UpdateInPlace
	ID      updatemodel.IndexedID // set for Add/Delete
	Doc     updatemodel.Doc       // set for Add
	Query   string                // set for DeleteByQuery
	Fields  map[string]interface{} // set for UpdateInPlace
}

// Op is the encoded operation kind of a Record (spec.md §4.D replay table).
type Op int

const (
	OpAdd Op = iota
	OpDelete
	OpDeleteByQuery
	OpUpdateInPlace
)

// RealtimeSearcher is a scoped, closeable view opened by OpenRealtimeSearcher.
type RealtimeSearcher interface {
	Close() error
}

// Log is the contract exposed by the Update Log.
type Log interface {
	Add(ctx context.Context, r Record, underLock bool) error
	Delete(ctx context.Context, r Record, underLock bool) error
	DeleteByQuery(ctx context.Context, r Record, underLock bool) error

	// LookupVersion returns the current version of id, or (0, false) if
	// the key is not found (spec.md §4.C treats "not found" as -1 at the
	// call site).
	LookupVersion(id updatemodel.Key) (int64, bool)

	// GetRecentUpdates returns up to n recent records sorted by |version|
	// descending (spec.md §3 invariant 2).
	GetRecentUpdates(n int) ([]Record, error)

	// GetDBQNewer returns delete-by-query records with |version| > v
	// (spec.md §4.C "deletesAfter").
	GetDBQNewer(v int64) ([]Record, error)

	PreCommit(ctx context.Context) error
	PostCommit(ctx context.Context) error
	PreSoftCommit(ctx context.Context) error
	PostSoftCommit(ctx context.Context) error

	OpenRealtimeSearcher() (RealtimeSearcher, error)

	State() State
	HasUncommittedChanges() bool

	Close() error
}
