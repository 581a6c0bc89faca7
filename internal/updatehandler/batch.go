package updatehandler

import (
	"context"

	"github.com/shardcore/updatecore/internal/updatemodel"
)

// AddBatch applies a batch of add commands, collecting per-document
// failures into a PartialErrorsError instead of aborting on the first
// failure (spec.md §7 "PartialErrors", §8 scenario 4).
func (h *Handler) AddBatch(cmds []updatemodel.AddCmd) (succeeded int, err error) {
	var failures map[updatemodel.Key]error

	for _, cmd := range cmds {
		if _, aerr := h.AddDoc(context.Background(), cmd); aerr != nil {
			if failures == nil {
				failures = make(map[updatemodel.Key]error)
			}
			failures[cmd.ID] = aerr
			continue
		}
		succeeded++
	}

	if len(failures) > 0 {
		return succeeded, &updatemodel.PartialErrorsError{Errors: failures}
	}
	return succeeded, nil
}
