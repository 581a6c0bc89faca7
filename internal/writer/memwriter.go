package writer

import (
	"fmt"
	"sync"

	"github.com/shardcore/updatecore/internal/updatemodel"
)

// MemWriter is an in-memory Writer used by update handler and peer sync
// tests. It is not a performance reference; it exists only to exercise
// the locking and ordering contracts the handler is responsible for.
type MemWriter struct {
	mu sync.Mutex

	live      map[string]updatemodel.Doc
	uncommitted bool
	commitData  CommitData
	closed      bool
}

func NewMemWriter() *MemWriter {
	return &MemWriter{live: make(map[string]updatemodel.Doc)}
}

func key(id updatemodel.IndexedID) string { return string(id) }

func (w *MemWriter) AddDocument(id updatemodel.IndexedID, doc updatemodel.Doc) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	w.live[key(id)] = doc
	w.uncommitted = true
	return nil
}

func (w *MemWriter) AddDocuments(docs []AddDocumentEntry) error {
	for _, d := range docs {
		if err := w.AddDocument(d.ID, d.Doc); err != nil {
			return err
		}
	}
	return nil
}

func (w *MemWriter) UpdateDocument(id updatemodel.IndexedID, doc updatemodel.Doc) error {
	return w.AddDocument(id, doc)
}

func (w *MemWriter) UpdateDocValues(id updatemodel.IndexedID, fields map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	existing, ok := w.live[key(id)]
	if !ok {
		return fmt.Errorf("updateDocValues: no document for id")
	}
	if existing.Fields == nil {
		existing.Fields = map[string]interface{}{}
	}
	for k, v := range fields {
		existing.Fields[k] = v
	}
	w.live[key(id)] = existing
	w.uncommitted = true
	return nil
}

func (w *MemWriter) DeleteDocuments(terms ...Term) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	for _, t := range terms {
		delete(w.live, string(t.Value))
	}
	w.uncommitted = true
	return nil
}

func (w *MemWriter) DeleteDocumentsByQuery(q Query) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	if q != nil && q.MatchAll() {
		w.live = make(map[string]updatemodel.Doc)
	}
	w.uncommitted = true
	return nil
}

func (w *MemWriter) HasUncommittedChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.uncommitted
}

func (w *MemWriter) Commit(data CommitData) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commitData = data
	w.uncommitted = false
	return nil
}

func (w *MemWriter) PrepareCommit(data CommitData) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commitData = data
	return nil
}

func (w *MemWriter) Rollback() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.uncommitted = false
	return nil
}

func (w *MemWriter) ForceMerge(maxSegments int) error      { return nil }
func (w *MemWriter) ForceMergeDeletes() error               { return nil }
func (w *MemWriter) AddIndexes(readers []interface{}) error { return nil }

func (w *MemWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Get returns the live document for id, used by tests to assert state.
func (w *MemWriter) Get(id updatemodel.IndexedID) (updatemodel.Doc, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.live[key(id)]
	return d, ok
}

// Len returns the number of live documents, used by tests.
func (w *MemWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.live)
}
