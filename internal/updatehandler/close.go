package updatehandler

import (
	"context"
	"errors"

	"github.com/hashicorp/go-multierror"

	"github.com/shardcore/updatecore/internal/updatelog"
	"github.com/shardcore/updatecore/internal/updatemodel"
	"github.com/shardcore/updatecore/internal/writer"
)

// Close implements the writer close sequence of spec.md §4.C: under the
// commit lock, optionally do a minimal commit, then close the log and the
// writer, logging each resource's error individually and continuing so
// every resource is attempted regardless of an earlier failure; the
// collected errors are returned together as one multierror. A
// *updatemodel.FatalError from either Close is re-thrown rather than
// swallowed.
func (h *Handler) Close(ctx context.Context) error {
	h.commitLock.Lock()
	defer h.commitLock.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	w := h.writerHandle.Drain()

	var result *multierror.Error

	if h.cfg.CommitOnClose && h.log.HasUncommittedChanges() && h.log.State() == updatelog.StateActive {
		if err := h.minimalCommitLocked(ctx, w); err != nil {
			h.logger.WithError(err).Error("minimal commit on close failed")
			result = multierror.Append(result, err)
		}
	}

	if err := h.log.Close(); err != nil {
		var fatal *updatemodel.FatalError
		if errors.As(err, &fatal) {
			return fatal
		}
		h.logger.WithError(err).Error("closing update log failed")
		result = multierror.Append(result, err)
	}

	if err := w.Close(); err != nil {
		var fatal *updatemodel.FatalError
		if errors.As(err, &fatal) {
			return fatal
		}
		h.logger.WithError(err).Error("closing writer failed")
		result = multierror.Append(result, err)
	}

	if result == nil {
		return nil
	}
	return result.ErrorOrNil()
}

// minimalCommitLocked runs preCommit -> writer.Commit -> postCommit
// without opening a searcher, the "minimal commit" of spec.md §4.C. The
// caller already holds commitLock.
func (h *Handler) minimalCommitLocked(ctx context.Context, w writer.Writer) error {
	h.updateLock.Lock()
	err := h.log.PreCommit(ctx)
	h.updateLock.Unlock()
	if err != nil {
		return updatemodel.NewIOFailureError("pre-commit on close: %v", err)
	}

	if err := w.Commit(writer.CommitData{}); err != nil {
		return updatemodel.NewIOFailureError("commit on close: %v", err)
	}

	if err := h.log.PostCommit(ctx); err != nil {
		return updatemodel.NewIOFailureError("post-commit on close: %v", err)
	}
	return nil
}
