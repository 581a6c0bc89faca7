package updatehandler

import (
	"context"

	"github.com/shardcore/updatecore/internal/updatemodel"
	"github.com/shardcore/updatecore/internal/writer"
)

// Commit runs the commit algorithm of spec.md §4.C. Exactly one hard
// commit proceeds at a time (commitLock); soft commits never take that
// lock but still serialize their pre/post-soft-commit phases under
// updateLock.
func (h *Handler) Commit(cmd updatemodel.CommitCmd) error {
	ctx := context.Background()

	w, release, err := h.writerHandle.Borrow()
	if err != nil {
		return updatemodel.NewIOFailureError("borrow writer: %v", err)
	}
	defer release()

	if cmd.PrepareCommit {
		// spec.md §4.C step 1: does not reopen a searcher, does not reset
		// docsPending (testable property in spec.md §8).
		if err := w.PrepareCommit(writer.CommitData{}); err != nil {
			return updatemodel.NewIOFailureError("prepare commit: %v", err)
		}
		return nil
	}

	if cmd.SoftCommit {
		h.cancelConflictingPendingCommits(cmd)

		if cmd.Optimize {
			if err := w.ForceMerge(cmd.MaxOptimizeSegments); err != nil {
				return updatemodel.NewIOFailureError("optimize: %v", err)
			}
			h.metrics.Optimize()
		}
		if cmd.ExpungeDeletes {
			if err := w.ForceMergeDeletes(); err != nil {
				return updatemodel.NewIOFailureError("expunge deletes: %v", err)
			}
			h.metrics.ExpungeDeletes()
		}

		if err := h.softCommit(ctx, w, cmd); err != nil {
			return err
		}
	} else {
		// spec.md §5: commitLock is held across the whole critical section
		// of a hard commit, including cancel-pending and optimize/expunge,
		// so exactly one hard commit is ever in flight against the writer.
		h.commitLock.Lock()
		err := h.commitHardLocked(ctx, w, cmd)
		h.commitLock.Unlock()
		if err != nil {
			return err
		}
	}

	if err := h.log.PostCommit(ctx); err != nil {
		return updatemodel.NewIOFailureError("post-commit: %v", err)
	}
	return nil
}

// commitHardLocked runs the full non-soft commit critical section under
// commitLock: cancel-pending, optimize/expunge, then the commit itself.
func (h *Handler) commitHardLocked(ctx context.Context, w writer.Writer, cmd updatemodel.CommitCmd) error {
	h.cancelConflictingPendingCommits(cmd)

	if cmd.Optimize {
		if err := w.ForceMerge(cmd.MaxOptimizeSegments); err != nil {
			return updatemodel.NewIOFailureError("optimize: %v", err)
		}
		h.metrics.Optimize()
	}
	if cmd.ExpungeDeletes {
		if err := w.ForceMergeDeletes(); err != nil {
			return updatemodel.NewIOFailureError("expunge deletes: %v", err)
		}
		h.metrics.ExpungeDeletes()
	}

	return h.hardCommit(ctx, w, cmd)
}

// cancelConflictingPendingCommits implements spec.md §4.C step 2: a commit
// that will open a new searcher preempts any pending soft commit; a hard
// commit of equal-or-greater "strength" (open-searcher-inclusive) preempts
// a pending hard commit.
func (h *Handler) cancelConflictingPendingCommits(cmd updatemodel.CommitCmd) {
	if cmd.OpenSearcher {
		h.softTracker.CancelPendingCommit()
	}
	if !cmd.SoftCommit && (cmd.OpenSearcher || !h.cfg.AutoCommitOpenSearcher) {
		h.hardTracker.CancelPendingCommit()
	}
}

func (h *Handler) hardCommit(ctx context.Context, w writer.Writer, cmd updatemodel.CommitCmd) error {
	h.updateLock.Lock()
	if err := h.log.PreCommit(ctx); err != nil {
		h.updateLock.Unlock()
		return updatemodel.NewIOFailureError("pre-commit: %v", err)
	}
	h.updateLock.Unlock()

	if w.HasUncommittedChanges() {
		if err := w.Commit(writer.CommitData{}); err != nil {
			return updatemodel.NewIOFailureError("commit: %v", err)
		}
	}

	h.hardTracker.DidCommit()

	if !cmd.OpenSearcher {
		// spec.md §4.C step 6: a non-soft commit that did not open a
		// searcher must still force a fresh realtime searcher so
		// realtime-get sees the latest state.
		rts, err := h.log.OpenRealtimeSearcher()
		if err != nil {
			return updatemodel.NewIOFailureError("refresh realtime searcher: %v", err)
		}
		rts.Close()
	}

	h.metrics.Commit(false)
	return nil
}

func (h *Handler) softCommit(ctx context.Context, w writer.Writer, cmd updatemodel.CommitCmd) error {
	h.updateLock.Lock()
	defer h.updateLock.Unlock()

	if err := h.log.PreSoftCommit(ctx); err != nil {
		return updatemodel.NewIOFailureError("pre-soft-commit: %v", err)
	}

	rts, err := h.log.OpenRealtimeSearcher()
	if err != nil {
		return updatemodel.NewIOFailureError("reopen searcher: %v", err)
	}
	rts.Close()

	if err := h.log.PostSoftCommit(ctx); err != nil {
		return updatemodel.NewIOFailureError("post-soft-commit: %v", err)
	}

	h.softTracker.DidCommit()
	h.metrics.Commit(true)
	return nil
}
