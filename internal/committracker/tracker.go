// Package committracker implements the Commit Tracker described in
// spec.md §4.A: a single-threaded, timer-driven scheduler that decides
// when to fire a hard or soft auto-commit based on pending-doc count and
// elapsed time.
package committracker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config mirrors spec.md §4.A; -1 disables either bound.
type Config struct {
	DocsUpperBound       int
	TimeUpperBound       time.Duration
	OpenSearcherOnCommit bool
	IsSoft               bool
}

func (c Config) docsBoundEnabled() bool { return c.DocsUpperBound > 0 }
func (c Config) timeBoundEnabled() bool { return c.TimeUpperBound > 0 }

// CommitFunc is invoked by the tracker's internal scheduler when a commit
// comes due. It is supplied by the update handler.
type CommitFunc func(openSearcher bool)

// Tracker tracks pending document counts and schedules auto-commits. One
// instance tracks hard commits, a second tracks soft commits; spec.md §3
// invariant 4 ("soft commits and hard commits never overlap") is enforced
// by the update handler's locking, not by the tracker itself.
type Tracker struct {
	cfg    Config
	commit CommitFunc
	logger logrus.FieldLogger

	mu            sync.Mutex
	pending       int
	commitCount   int64
	timer         *time.Timer
	deadline      time.Time // zero when nothing is scheduled
}

func New(cfg Config, commit CommitFunc, logger logrus.FieldLogger) *Tracker {
	kind := "hard"
	if cfg.IsSoft {
		kind = "soft"
	}
	return &Tracker{
		cfg:    cfg,
		commit: commit,
		logger: logger.WithField("commit_tracker", kind),
	}
}

// AddedDocument registers one pending add. commitWithinMS, if > 0,
// overrides the configured time bound for scheduling purposes (spec.md
// §4.A).
//
// ignoreAutocommit suppresses time-bound and commitWithin scheduling (the
// caller's command carried FlagIgnoreAutocommit), but never suppresses a
// doc-count-triggered commit: hitting DocsUpperBound always forces an
// immediate commit regardless of the flag, since the bound exists to cap
// memory/segment growth rather than client-visible latency.
func (t *Tracker) AddedDocument(commitWithinMS int64, ignoreAutocommit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending++
	if t.cfg.docsBoundEnabled() && t.pending >= t.cfg.DocsUpperBound {
		t.scheduleLocked(0)
		return
	}
	if ignoreAutocommit {
		return
	}
	if commitWithinMS > 0 {
		t.scheduleLocked(time.Duration(commitWithinMS) * time.Millisecond)
		return
	}
	if t.cfg.timeBoundEnabled() && t.timer == nil {
		t.scheduleLocked(t.cfg.TimeUpperBound)
	}
}

// DeletedDocument is symmetric with AddedDocument (spec.md §4.A).
func (t *Tracker) DeletedDocument(commitWithinMS int64, ignoreAutocommit bool) {
	t.AddedDocument(commitWithinMS, ignoreAutocommit)
}

// CancelPendingCommit cancels any scheduled future commit.
func (t *Tracker) CancelPendingCommit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// DidCommit resets the pending count and increments the commit counter.
// Called by the update handler after a successful hard or soft commit.
func (t *Tracker) DidCommit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = 0
	t.commitCount++
	t.cancelLocked()
}

// DidRollback resets the pending count without incrementing the commit
// counter.
func (t *Tracker) DidRollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = 0
	t.cancelLocked()
}

// ScheduleCommitWithin idempotently schedules a commit at now+delay: a
// later schedule of equal or greater delay is a no-op, an earlier one wins
// (spec.md §4.A).
func (t *Tracker) ScheduleCommitWithin(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduleLocked(delay)
}

// Pending returns the current pending-document count (the docsPending
// gauge of spec.md §6).
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// CommitCount returns the cumulative number of commits this tracker has
// observed (spec.md §6 "commits"/"softCommits" meters).
func (t *Tracker) CommitCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commitCount
}

func (t *Tracker) scheduleLocked(delay time.Duration) {
	deadline := time.Now().Add(delay)
	if t.timer != nil {
		if !deadline.Before(t.deadline) {
			// a later or equal schedule never preempts an earlier one
			return
		}
		t.timer.Stop()
	}
	t.deadline = deadline
	t.timer = time.AfterFunc(delay, t.fire)
}

func (t *Tracker) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
		t.deadline = time.Time{}
	}
}

func (t *Tracker) fire() {
	t.mu.Lock()
	t.timer = nil
	t.deadline = time.Time{}
	t.mu.Unlock()

	t.logger.Debug("auto-commit firing")
	t.commit(t.cfg.OpenSearcherOnCommit)
}
