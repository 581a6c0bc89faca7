package updatehandler

import "github.com/shardcore/updatecore/internal/updatemodel"

// MergeIndexes merges external index readers into this shard's writer
// (spec.md §4.C).
func (h *Handler) MergeIndexes(cmd updatemodel.MergeIndexesCmd) error {
	w, release, err := h.writerHandle.Borrow()
	if err != nil {
		return updatemodel.NewIOFailureError("borrow writer: %v", err)
	}
	defer release()

	if err := w.AddIndexes(cmd.Readers); err != nil {
		return updatemodel.NewIOFailureError("merge indexes: %v", err)
	}
	h.metrics.MergeIndexes()
	return nil
}

// Split validates a split command (spec.md §4.C): it requires at least one
// entry in cmd.Targets and a partition function in cmd.SplitKey, and
// records the split metric. It does not move or copy any documents and
// issues no writer operation.
func (h *Handler) Split(cmd updatemodel.SplitCmd) error {
	if len(cmd.Targets) == 0 {
		return updatemodel.NewBadRequestError("split requires at least one target")
	}
	if cmd.SplitKey == nil {
		return updatemodel.NewBadRequestError("split requires a partition function")
	}

	h.metrics.Split()
	return nil
}
