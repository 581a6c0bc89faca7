package peersync

import (
	"context"
	"fmt"

	"github.com/shardcore/updatecore/internal/updatelog"
	"github.com/shardcore/updatecore/internal/updatemodel"
)

// replay implements spec.md §4.D "Replay": records are sorted by |v|
// ascending and applied oldest-first through the Update Handler with
// PeerSync|IgnoreAutocommit flags and leaderLogic=false, deduplicating
// consecutive records with identical non-zero version. Each skipped
// duplicate is counted in the peersync skipped metric.
func (s *Syncer) replay(ctx context.Context, records []updatelog.Record) error {
	ordered := append([]updatelog.Record(nil), records...)
	sortAscByAbsVersion(ordered)

	var lastVersion int64
	haveLast := false
	skipped := 0
	defer func() { s.metrics.PeerSyncSkipped(skipped) }()

	for _, rec := range ordered {
		v := rec.Version.Abs()
		if haveLast && v != 0 && v == lastVersion {
			skipped++
			continue
		}
		lastVersion = v
		haveLast = true

		if err := s.replayOne(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

const replayFlags = updatemodel.FlagPeerSync | updatemodel.FlagIgnoreAutocommit

func (s *Syncer) replayOne(ctx context.Context, rec updatelog.Record) error {
	switch rec.Op {
	case updatelog.OpAdd:
		_, err := s.handler.AddDoc(ctx, updatemodel.AddCmd{
			Doc:              rec.Doc,
			ID:               rec.Key,
			IndexedID:        rec.ID,
			RequestedVersion: updatemodel.RequestedVersionNoAssertion,
			Version:          int64(rec.Version),
			IsLeaderLogic:    false,
			Flags:            replayFlags,
		})
		return err

	case updatelog.OpDelete:
		return s.handler.Delete(ctx, updatemodel.DeleteCmd{
			ID:               rec.Key,
			IndexedID:        rec.ID,
			RequestedVersion: updatemodel.RequestedVersionNoAssertion,
			Version:          int64(rec.Version),
			IsLeaderLogic:    false,
			Flags:            replayFlags,
		})

	case updatelog.OpDeleteByQuery:
		query := rec.Query
		return s.handler.DeleteByQuery(ctx, updatemodel.DeleteCmd{
			Query:   &query,
			Version: int64(rec.Version),
			Flags:   replayFlags,
		})

	case updatelog.OpUpdateInPlace:
		_, err := s.handler.AddDoc(ctx, updatemodel.AddCmd{
			Doc:              updatemodel.Doc{Fields: rec.Fields},
			ID:               rec.Key,
			IndexedID:        rec.ID,
			RequestedVersion: updatemodel.RequestedVersionNoAssertion,
			Version:          int64(rec.Version),
			IsInPlaceUpdate:  true,
			IsLeaderLogic:    false,
			Flags:            replayFlags,
		})
		return err

	default:
		return fmt.Errorf("peer sync replay: unknown op %d", rec.Op)
	}
}

func sortAscByAbsVersion(records []updatelog.Record) {
	// insertion sort is fine: replay batches are bounded by maxUpdates,
	// never the full log.
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].Version.Abs() < records[j-1].Version.Abs(); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}
