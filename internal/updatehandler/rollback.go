package updatehandler

import (
	"github.com/shardcore/updatecore/internal/updatemodel"
)

// Rollback implements spec.md §4.C "Rollback": forbidden in cluster-aware
// mode; otherwise rolls the writer back and clears tracker state.
func (h *Handler) Rollback(cmd updatemodel.RollbackCmd) error {
	if h.cfg.ClusterAware {
		return updatemodel.NewWrongUsageError("rollback is not supported in cluster-aware mode")
	}

	h.commitLock.Lock()
	defer h.commitLock.Unlock()

	w, release, err := h.writerHandle.Borrow()
	if err != nil {
		return updatemodel.NewIOFailureError("borrow writer: %v", err)
	}
	defer release()

	if err := w.Rollback(); err != nil {
		return updatemodel.NewIOFailureError("rollback: %v", err)
	}

	h.hardTracker.DidRollback()
	h.softTracker.DidRollback()
	h.metrics.Rollback()
	return nil
}
