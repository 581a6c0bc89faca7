// Package updatehandler implements the Update Handler described in
// spec.md §4.C: it serializes ingest against a single index writer,
// enforces the configured semantics mode, interacts with the update log,
// and schedules hard/soft commits.
package updatehandler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shardcore/updatecore/internal/committracker"
	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/metrics"
	"github.com/shardcore/updatecore/internal/semantics"
	"github.com/shardcore/updatecore/internal/updatelog"
	"github.com/shardcore/updatecore/internal/writer"
)

// Config mirrors spec.md §6's update-handler configuration block.
type Config struct {
	AutoCommitMaxDocs       int
	AutoCommitMaxTime       int64 // milliseconds, -1 disables
	AutoCommitOpenSearcher  bool
	AutoSoftCommitMaxDocs   int
	AutoSoftCommitMaxTime   int64 // milliseconds, -1 disables
	CommitWithinSoftCommit  bool
	IndexWriterCloseWaitsForMerges bool
	SemanticsMode           semantics.Mode
	ClusterAware            bool
	// CommitOnClose mirrors the source's commitOnClose setting consulted
	// by the writer close sequence (spec.md §4.C).
	CommitOnClose bool
}

// SchemaProvider supplies the current schema capabilities so the handler
// can validate a mode's prerequisites (spec.md §4.B).
type SchemaProvider interface {
	Caps() semantics.SchemaCaps
}

// Handler is the Update Handler. One instance serializes ingest for a
// single shard's writer and log.
type Handler struct {
	cfg    Config
	logger logrus.FieldLogger

	writerHandle *writer.Handle
	log          updatelog.Log
	schema       SchemaProvider
	prereq       *semantics.PrereqCache
	fp           fingerprint.Core
	metrics      *metrics.Metrics

	hardTracker *committracker.Tracker
	softTracker *committracker.Tracker

	// commitLock: exactly one hard commit in flight per shard (spec.md §3
	// invariant 4, §5 "commit lock").
	commitLock sync.Mutex
	// updateLock: mutual exclusion between deleteByQuery, log pre/post
	// commit phases, reordered-DBQ replay, and new-searcher opening
	// (spec.md §5 "update lock"). Always acquired *inside* commitLock
	// when both are held, never the reverse.
	updateLock sync.Mutex

	closed bool
}

// New builds a Handler and wires its hard/soft commit trackers to call
// back into h.Commit when an auto-commit comes due.
func New(cfg Config, w writer.Writer, log updatelog.Log, schema SchemaProvider,
	fp fingerprint.Core, m *metrics.Metrics, logger logrus.FieldLogger,
) *Handler {
	h := &Handler{
		cfg:          cfg,
		logger:       logger.WithField("component", "update_handler"),
		writerHandle: writer.NewHandle(w),
		log:          log,
		schema:       schema,
		prereq:       semantics.NewPrereqCache(),
		fp:           fp,
		metrics:      m,
	}

	h.hardTracker = committracker.New(committracker.Config{
		DocsUpperBound:       cfg.AutoCommitMaxDocs,
		TimeUpperBound:       msToDuration(cfg.AutoCommitMaxTime),
		OpenSearcherOnCommit: cfg.AutoCommitOpenSearcher,
		IsSoft:               false,
	}, h.autoHardCommit, h.logger)

	h.softTracker = committracker.New(committracker.Config{
		DocsUpperBound:       cfg.AutoSoftCommitMaxDocs,
		TimeUpperBound:       msToDuration(cfg.AutoSoftCommitMaxTime),
		OpenSearcherOnCommit: true,
		IsSoft:               true,
	}, h.autoSoftCommit, h.logger)

	return h
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (h *Handler) autoHardCommit(openSearcher bool) {
	if err := h.Commit(CommitCmdFromAuto(openSearcher, false)); err != nil {
		h.logger.WithError(err).Error("auto hard commit failed")
	}
}

func (h *Handler) autoSoftCommit(openSearcher bool) {
	if err := h.Commit(CommitCmdFromAuto(openSearcher, true)); err != nil {
		h.logger.WithError(err).Error("auto soft commit failed")
	}
}

// HardTracker and SoftTracker expose the commit trackers for peer sync and
// metrics collection.
func (h *Handler) HardTracker() *committracker.Tracker { return h.hardTracker }
func (h *Handler) SoftTracker() *committracker.Tracker { return h.softTracker }
