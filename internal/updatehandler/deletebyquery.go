package updatehandler

import (
	"context"

	"github.com/shardcore/updatecore/internal/metrics"
	"github.com/shardcore/updatecore/internal/updatelog"
	"github.com/shardcore/updatecore/internal/updatemodel"
	"github.com/shardcore/updatecore/internal/writer"
)

// versionBoundedQuery wraps a raw query string with the version-exclusion
// clause of spec.md §4.C: "q ∧ ¬(versionField ∈ [|v|, ∞))" so a DBQ never
// removes writes newer than the version it was issued at. Query parsing
// itself is out of scope (spec.md §1); this type only carries enough for
// the writer to apply the bound.
type versionBoundedQuery struct {
	raw          string
	excludeFrom  int64 // exclude versionField >= excludeFrom; 0 means unbounded
	matchAll     bool
}

func (q versionBoundedQuery) MatchAll() bool { return q.matchAll }

// DeleteByQuery applies a delete-by-query command per spec.md §4.C
// "Delete-by-query". A "*:*" query with Version ==
// updatemodel.MatchAllDeleteVersion is the special "wipe everything" case:
// it writes no log entry and applies no version bound.
func (h *Handler) DeleteByQuery(ctx context.Context, cmd updatemodel.DeleteCmd) error {
	if cmd.Query == nil {
		return updatemodel.NewBadRequestError("delete-by-query command has no query")
	}

	wipeEverything := *cmd.Query == "*:*" && cmd.Version == updatemodel.MatchAllDeleteVersion

	q := versionBoundedQuery{raw: *cmd.Query, matchAll: wipeEverything}
	if !wipeEverything && cmd.Version != 0 {
		q.excludeFrom = abs64(cmd.Version)
	}

	w, release, err := h.writerHandle.Borrow()
	if err != nil {
		h.metrics.Error(metrics.ErrorKindDeleteByQuery)
		return updatemodel.NewIOFailureError("borrow writer: %v", err)
	}
	defer release()

	h.updateLock.Lock()
	defer h.updateLock.Unlock()

	rts, err := h.log.OpenRealtimeSearcher()
	if err != nil {
		h.metrics.Error(metrics.ErrorKindDeleteByQuery)
		return updatemodel.NewIOFailureError("open realtime searcher: %v", err)
	}
	defer rts.Close()

	if err := w.DeleteDocumentsByQuery(q); err != nil {
		h.metrics.Error(metrics.ErrorKindDeleteByQuery)
		return updatemodel.NewIOFailureError("delete by query: %v", err)
	}

	if wipeEverything {
		// spec.md §4.C: match-all wipe writes no log entry and applies no
		// version protection.
		h.metrics.DeleteByQuery()
		return nil
	}

	if err := h.log.DeleteByQuery(ctx, updatelog.Record{
		Version: updatemodel.Version(cmd.Version),
		Op:      updatelog.OpDeleteByQuery,
		Query:   *cmd.Query,
	}, true); err != nil {
		h.metrics.Error(metrics.ErrorKindDeleteByQuery)
		return updatemodel.NewIOFailureError("append delete-by-query to update log: %v", err)
	}

	h.metrics.DeleteByQuery()
	h.notifyTrackers(cmd.Flags, cmd.CommitWithinMS)
	return nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

var _ writer.Query = versionBoundedQuery{}
