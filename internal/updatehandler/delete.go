package updatehandler

import (
	"context"

	"github.com/pkg/errors"

	"github.com/shardcore/updatecore/internal/metrics"
	"github.com/shardcore/updatecore/internal/semantics"
	"github.com/shardcore/updatecore/internal/updatelog"
	"github.com/shardcore/updatecore/internal/updatemodel"
)

// Delete applies a delete-by-id command per spec.md §4.C "Delete-by-id":
// the same existence/version checks as Add, then a writer delete and log
// append.
func (h *Handler) Delete(ctx context.Context, cmd updatemodel.DeleteCmd) error {
	mode := h.cfg.SemanticsMode
	req := semantics.RequestShape{RequestedVersion: cmd.RequestedVersion, IsUpdate: true}
	rules := semantics.Evaluate(mode, req)

	caps := h.schema.Caps()
	if rules.RequireUniqueKeyFieldInSchema.Enforced && !caps.HasUniqueKeyField {
		h.metrics.Error(metrics.ErrorKindDelete)
		return updatemodel.NewWrongUsageError("schema has no unique key field")
	}
	if rules.RequireUpdateLog.Enforced && h.log == nil {
		h.metrics.Error(metrics.ErrorKindDelete)
		return updatemodel.NewWrongUsageError("no update log configured")
	}

	if rules.NeedToLookupExistingVersion.Enforced && cmd.IsLeaderLogic {
		if err := h.checkExistingVersion(rules, cmd.ID, cmd.RequestedVersion); err != nil {
			h.metrics.Error(metrics.ErrorKindDelete)
			return err
		}
	}

	w, release, err := h.writerHandle.Borrow()
	if err != nil {
		h.metrics.Error(metrics.ErrorKindDelete)
		return updatemodel.NewIOFailureError("borrow writer: %v", err)
	}
	defer release()

	if err := w.DeleteDocuments(idTerm(cmd.IndexedID)); err != nil {
		h.metrics.Error(metrics.ErrorKindDelete)
		return errors.Wrapf(updatemodel.NewIOFailureError("delete document: %v", err), "document id %s", cmd.ID)
	}

	if err := h.log.Delete(ctx, updatelog.Record{
		Version: updatemodel.Version(cmd.Version),
		Op:      updatelog.OpDelete,
		Key:     cmd.ID,
		ID:      cmd.IndexedID,
	}, false); err != nil {
		h.metrics.Error(metrics.ErrorKindDelete)
		return updatemodel.NewIOFailureError("append delete to update log: %v", err)
	}

	h.metrics.DeleteByID()
	h.notifyTrackers(cmd.Flags, cmd.CommitWithinMS) // deletedDocument is symmetric with addedDocument
	return nil
}
