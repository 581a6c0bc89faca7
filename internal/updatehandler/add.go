package updatehandler

import (
	"context"

	"github.com/pkg/errors"

	"github.com/shardcore/updatecore/internal/metrics"
	"github.com/shardcore/updatecore/internal/semantics"
	"github.com/shardcore/updatecore/internal/updatelog"
	"github.com/shardcore/updatecore/internal/updatemodel"
	"github.com/shardcore/updatecore/internal/writer"
)

// idField is the writer term field used to address a document by its
// unique key, the "idTerm" of spec.md §4.C.
const idField = "_id"

func idTerm(id updatemodel.IndexedID) writer.Term {
	return writer.Term{Field: idField, Value: []byte(id)}
}

// AddDoc applies one add/update command per the algorithm in spec.md
// §4.C. It returns 1 on success.
func (h *Handler) AddDoc(ctx context.Context, cmd updatemodel.AddCmd) (int, error) {
	mode, err := h.resolveMode(cmd.SemanticsModeOverride)
	if err != nil {
		h.metrics.Error(metrics.ErrorKindAdd)
		return 0, err
	}

	req := semantics.RequestShape{RequestedVersion: cmd.RequestedVersion, IsUpdate: cmd.IsInPlaceUpdate}
	rules := semantics.Evaluate(mode, req)

	if err := h.checkAddPrereqs(rules, cmd); err != nil {
		h.metrics.Error(metrics.ErrorKindAdd)
		return 0, err
	}

	if rules.NeedToLookupExistingVersion.Enforced && cmd.IsLeaderLogic {
		if err := h.checkExistingVersion(rules, cmd.ID, cmd.RequestedVersion); err != nil {
			h.metrics.Error(metrics.ErrorKindAdd)
			return 0, err
		}
	}

	w, release, err := h.writerHandle.Borrow()
	if err != nil {
		h.metrics.Error(metrics.ErrorKindAdd)
		return 0, updatemodel.NewIOFailureError("borrow writer: %v", err)
	}
	defer release()

	if rules.NeedToDeleteOldVersion.Enforced {
		if err := h.addWithRetraction(ctx, w, cmd); err != nil {
			h.metrics.Error(metrics.ErrorKindAdd)
			return 0, errors.Wrapf(err, "document id %s", cmd.ID)
		}
	} else {
		if err := h.addInsertOnly(ctx, w, cmd); err != nil {
			h.metrics.Error(metrics.ErrorKindAdd)
			return 0, errors.Wrapf(err, "document id %s", cmd.ID)
		}
	}

	h.metrics.AddDoc()
	h.notifyTrackers(cmd.Flags, cmd.CommitWithinMS)
	return 1, nil
}

func (h *Handler) resolveMode(override string) (semantics.Mode, error) {
	mode := h.cfg.SemanticsMode
	if override != "" {
		candidate := semantics.Mode(override)
		caps := h.schema.Caps()
		if res := h.prereq.Validate(candidate, caps); !res.OK {
			return "", updatemodel.NewWrongUsageError("cannot use semantics mode override %q: %s", override, res.Reason)
		}
		mode = candidate
	}
	return mode, nil
}

func (h *Handler) checkAddPrereqs(rules semantics.Rules, cmd updatemodel.AddCmd) error {
	caps := h.schema.Caps()
	if rules.RequireUniqueKeyFieldInSchema.Enforced && !caps.HasUniqueKeyField {
		return updatemodel.NewWrongUsageError("schema has no unique key field")
	}
	if rules.RequireUniqueKeyInDoc.Enforced && cmd.ID == "" {
		return updatemodel.NewWrongUsageError("document is missing its unique key")
	}
	if rules.RequireVersionFieldInSchema.Enforced && !caps.HasVersionField {
		return updatemodel.NewWrongUsageError("schema has no version field")
	}
	if rules.RequireUpdateLog.Enforced && h.log == nil {
		return updatemodel.NewWrongUsageError("no update log configured")
	}
	return nil
}

// checkExistingVersion implements step 3 of the add algorithm: leader-side
// lookup of the current version and the existence/equality checks that
// follow from it.
func (h *Handler) checkExistingVersion(rules semantics.Rules, id updatemodel.Key, requestedVersion int64) error {
	current, found := h.log.LookupVersion(id)
	if !found {
		current = -1
	}

	if current < 0 {
		if rules.RequireExistingDocument.Enforced {
			return &updatemodel.DocDoesNotExistError{ID: id}
		}
		return nil
	}

	if rules.RequireNoExistingDocument.Enforced {
		return &updatemodel.DocAlreadyExistsError{ID: id}
	}
	if rules.RequireVersionEquality.Enforced && current != requestedVersion {
		return &updatemodel.VersionConflictError{ID: id, Current: current}
	}
	return nil
}

// addWithRetraction implements the update path of spec.md §4.C step 4:
// the command must retract whatever version previously occupied this key.
func (h *Handler) addWithRetraction(ctx context.Context, w writer.Writer, cmd updatemodel.AddCmd) error {
	deletesAfter, err := h.log.GetDBQNewer(cmd.Version)
	if err != nil {
		return updatemodel.NewIOFailureError("query deletes newer than version: %v", err)
	}

	if len(deletesAfter) > 0 {
		return h.addReorderedDBQPath(ctx, w, cmd, deletesAfter)
	}
	return h.addNormalPath(ctx, w, cmd)
}

// addReorderedDBQPath re-applies delete-by-queries that logically happened
// after this add but arrived first, so a reordered network delivery can
// never resurrect a document a later DBQ meant to remove (spec.md §4.C,
// §9 "Reordered DBQ logic").
func (h *Handler) addReorderedDBQPath(ctx context.Context, w writer.Writer, cmd updatemodel.AddCmd, deletesAfter []updatelog.Record) error {
	h.updateLock.Lock()
	defer h.updateLock.Unlock()

	if cmd.IsInPlaceUpdate {
		rts, err := h.log.OpenRealtimeSearcher()
		if err != nil {
			return updatemodel.NewIOFailureError("open realtime searcher: %v", err)
		}
		defer rts.Close()
	}

	if err := w.UpdateDocument(cmd.IndexedID, cmd.Doc); err != nil {
		return updatemodel.NewIOFailureError("update document: %v", err)
	}

	for _, dbq := range deletesAfter {
		if err := w.DeleteDocumentsByQuery(dbqQuery{dbq.Query}); err != nil {
			return updatemodel.NewIOFailureError("replay reordered delete-by-query: %v", err)
		}
	}

	if err := h.log.Add(ctx, updatelog.Record{
		Version: updatemodel.Version(cmd.Version),
		Op:      updatelog.OpAdd,
		Key:     cmd.ID,
		ID:      cmd.IndexedID,
		Doc:     cmd.Doc,
	}, true); err != nil {
		return updatemodel.NewIOFailureError("append to update log: %v", err)
	}
	return nil
}

func (h *Handler) addNormalPath(ctx context.Context, w writer.Writer, cmd updatemodel.AddCmd) error {
	if cmd.IsInPlaceUpdate {
		if err := w.UpdateDocValues(cmd.IndexedID, cmd.Doc.Fields); err != nil {
			return updatemodel.NewIOFailureError("update doc values: %v", err)
		}
	} else {
		if err := w.UpdateDocument(cmd.IndexedID, cmd.Doc); err != nil {
			return updatemodel.NewIOFailureError("update document: %v", err)
		}
	}

	if cmd.UpdateTerm != nil && string(*cmd.UpdateTerm) != string(cmd.IndexedID) {
		if err := w.DeleteDocuments(
			writer.Term{Field: "_updateterm_not_id", Value: *cmd.UpdateTerm},
		); err != nil {
			return updatemodel.NewIOFailureError("delete dedup term: %v", err)
		}
	}

	if err := h.log.Add(ctx, updatelog.Record{
		Version: updatemodel.Version(cmd.Version),
		Op:      updatelog.OpAdd,
		Key:     cmd.ID,
		ID:      cmd.IndexedID,
		Doc:     cmd.Doc,
	}, false); err != nil {
		return updatemodel.NewIOFailureError("append to update log: %v", err)
	}
	return nil
}

// addInsertOnly is the classic insert-only fast path of spec.md §4.C step
// 5, taken when the mode never needs to retract a prior version.
func (h *Handler) addInsertOnly(ctx context.Context, w writer.Writer, cmd updatemodel.AddCmd) error {
	if cmd.IsBlock {
		if err := w.AddDocuments([]writer.AddDocumentEntry{{ID: cmd.IndexedID, Doc: cmd.Doc}}); err != nil {
			return updatemodel.NewIOFailureError("add document block: %v", err)
		}
	} else {
		if err := w.AddDocument(cmd.IndexedID, cmd.Doc); err != nil {
			return updatemodel.NewIOFailureError("add document: %v", err)
		}
	}

	if err := h.log.Add(ctx, updatelog.Record{
		Version: updatemodel.Version(cmd.Version),
		Op:      updatelog.OpAdd,
		Key:     cmd.ID,
		ID:      cmd.IndexedID,
		Doc:     cmd.Doc,
	}, false); err != nil {
		return updatemodel.NewIOFailureError("append to update log: %v", err)
	}
	return nil
}

// notifyTrackers routes an add or delete to the hard or soft commit
// tracker per CommitWithinSoftCommit (spec.md §4.C step 6). The tracker is
// notified even when the command carries FlagIgnoreAutocommit, so its
// pending count includes the command; the flag only suppresses time-bound
// and commitWithin scheduling, and a reached doc-count bound still
// triggers a commit.
func (h *Handler) notifyTrackers(flags updatemodel.Flags, commitWithinMS int64) {
	ignore := flags.Has(updatemodel.FlagIgnoreAutocommit)
	if h.cfg.CommitWithinSoftCommit {
		h.softTracker.AddedDocument(commitWithinMS, ignore)
		return
	}
	h.hardTracker.AddedDocument(commitWithinMS, ignore)
}

// dbqQuery adapts a raw, already-executed query string read back from the
// update log into a writer.Query for replay. Query parsing itself is out
// of scope (spec.md §1); this type only carries the string through.
type dbqQuery struct {
	raw string
}

func (q dbqQuery) MatchAll() bool { return false }
