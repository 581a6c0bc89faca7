package updatemodel

// Flags are bit flags carried on every command.
type Flags uint8

const (
	// FlagIgnoreAutocommit suppresses time-bound and commitWithin
	// auto-commit scheduling for this command; the command is still counted
	// as pending, and a reached doc-count bound still triggers a commit.
	// Used by replay paths that must not trigger an autocommit storm while
	// catching up.
	FlagIgnoreAutocommit Flags = 1 << iota
	// FlagPeerSync marks a command as originating from peer sync replay
	// rather than a direct client request.
	FlagPeerSync
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Doc is the document payload carried by an AddCmd. The update handler is
// agnostic to its internal shape; it only needs the unique key and,
// for in-place updates, the set of non-key fields being written.
type Doc struct {
	Fields map[string]interface{}
}

// AddCmd adds or updates a single document.
type AddCmd struct {
	Doc       Doc
	ID        Key
	IndexedID IndexedID

	// RequestedVersion is the request-level version assertion:
	// updatemodel.RequestedVersionInsertOnly (-1) means insert-only,
	// updatemodel.RequestedVersionNoAssertion (0) means no assertion,
	// any positive value means "update existing with exactly this version".
	RequestedVersion int64
	// Version is the log-level version this command will be stamped with
	// once accepted; assigned by the caller (leader) before the command
	// reaches the handler.
	Version int64

	IsBlock          bool
	IsInPlaceUpdate  bool
	IsLeaderLogic    bool
	UpdateTerm       *IndexedID
	CommitWithinMS   int64
	SemanticsModeOverride string
	Flags            Flags
}

// DeleteCmd deletes a single document by id.
type DeleteCmd struct {
	ID        Key
	IndexedID IndexedID

	RequestedVersion int64
	Version          int64

	Query *string // non-nil for delete-by-query

	IsLeaderLogic  bool
	CommitWithinMS int64
	Flags          Flags
}

// CommitCmd commits or prepares a commit.
type CommitCmd struct {
	SoftCommit           bool
	OpenSearcher         bool
	WaitSearcher         bool
	ExpungeDeletes       bool
	Optimize             bool
	MaxOptimizeSegments  int
	PrepareCommit        bool
}

// RollbackCmd rolls the writer back to its last committed state. Rejected
// when the shard is running in cluster-aware mode (spec.md §4.C).
type RollbackCmd struct{}

// MergeIndexesCmd merges external index readers into this shard's writer.
type MergeIndexesCmd struct {
	Readers []interface{}
}

// SplitCmd splits this shard's index into the given target writers.
type SplitCmd struct {
	Targets []interface{}
	// SplitKey partitions documents between targets, e.g. by hash range.
	SplitKey func(id Key) int
}
