// Package writer declares the contract of the inverted-index writer, an
// external collaborator named only by its interface per spec.md §1. The
// reference implementation in memwriter.go exists purely to exercise the
// update handler's tests.
package writer

import "github.com/shardcore/updatecore/internal/updatemodel"

// Term identifies documents within the writer for delete/update purposes:
// either a single document's indexed id, or a dedup term spanning several
// documents (e.g. the add path's dedup "updateTerm ∧ ¬idTerm" construction
// in spec.md §4.C).
type Term struct {
	Field string
	Value []byte
}

// Query is an opaque, already-parsed query handed to DeleteDocumentsByQuery; the
// writer is responsible for interpreting it. Query parsing itself is out
// of scope per spec.md §1.
type Query interface {
	// MatchAll reports whether this query matches every document, used to
	// special-case the "wipe everything" delete-by-query (spec.md §4.C).
	MatchAll() bool
}

// CommitData is opaque metadata stamped onto a commit (e.g. recovery
// info); the writer persists it and returns it unchanged on reopen.
type CommitData map[string]string

// Writer is the contract exposed by the inverted-index writer.
type Writer interface {
	AddDocument(id updatemodel.IndexedID, doc updatemodel.Doc) error
	AddDocuments(docs []AddDocumentEntry) error // parent/child block adds
	UpdateDocument(id updatemodel.IndexedID, doc updatemodel.Doc) error
	UpdateDocValues(id updatemodel.IndexedID, fields map[string]interface{}) error
	DeleteDocuments(terms ...Term) error
	DeleteDocumentsByQuery(q Query) error

	// HasUncommittedChanges reports whether any mutation has occurred
	// since the last successful Commit.
	HasUncommittedChanges() bool

	Commit(data CommitData) error
	PrepareCommit(data CommitData) error
	Rollback() error

	ForceMerge(maxSegments int) error
	ForceMergeDeletes() error

	AddIndexes(readers []interface{}) error

	Close() error
}

// AddDocumentEntry pairs an id with its document for block (parent/child)
// adds.
type AddDocumentEntry struct {
	ID  updatemodel.IndexedID
	Doc updatemodel.Doc
}
