package writer

import (
	"fmt"
	"sync"
)

// Handle is a reference-counted, shared Writer handle. Every use is a
// scoped borrow that guarantees the refcount is released on every exit
// path, including panics and early returns (spec.md §3 "Lifecycles",
// §9 "reference-counted writer handle"). The borrow is not re-entrant:
// a goroutine that already holds a borrow must pass the Writer down
// rather than acquiring a second one.
type Handle struct {
	mu       sync.Mutex
	w        Writer
	refs     int
	draining bool
	drained  chan struct{}
}

func NewHandle(w Writer) *Handle {
	return &Handle{w: w}
}

// Borrow acquires a reference to the underlying Writer and returns a
// release function the caller must invoke exactly once, typically via
// `defer release()`. Borrow fails once the handle has started draining
// (see Drain).
func (h *Handle) Borrow() (Writer, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.draining {
		return nil, nil, fmt.Errorf("writer handle is draining, no new borrows accepted")
	}
	h.refs++
	released := false
	return h.w, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if released {
			return
		}
		released = true
		h.refs--
		if h.refs == 0 && h.draining && h.drained != nil {
			close(h.drained)
			h.drained = nil
		}
	}, nil
}

// Drain marks the handle as draining (no further borrows accepted) and
// blocks until every outstanding borrow has released, returning the
// underlying Writer so the caller can close it.
func (h *Handle) Drain() Writer {
	h.mu.Lock()
	h.draining = true
	if h.refs == 0 {
		w := h.w
		h.mu.Unlock()
		return w
	}
	drained := make(chan struct{})
	h.drained = drained
	h.mu.Unlock()

	<-drained
	return h.w
}
