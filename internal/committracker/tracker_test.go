package committracker

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocsUpperBoundForcesImmediateCommit(t *testing.T) {
	var fired int32
	var mu sync.Mutex
	done := make(chan struct{}, 1)

	tr := New(Config{DocsUpperBound: 2, TimeUpperBound: -1}, func(openSearcher bool) {
		mu.Lock()
		fired++
		mu.Unlock()
		done <- struct{}{}
	}, logrus.New())

	tr.AddedDocument(0, false)
	tr.AddedDocument(0, false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("commit never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), fired)
}

func TestDocsUpperBoundForcesEvenWhenIgnoringAutocommit(t *testing.T) {
	done := make(chan struct{}, 1)
	tr := New(Config{DocsUpperBound: 1, TimeUpperBound: -1}, func(openSearcher bool) {
		done <- struct{}{}
	}, logrus.New())

	tr.AddedDocument(0, true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("doc-count bound should force a commit even with ignoreAutocommit set")
	}
}

func TestIgnoreAutocommitSuppressesTimeBound(t *testing.T) {
	tr := New(Config{DocsUpperBound: -1, TimeUpperBound: 10 * time.Millisecond}, func(openSearcher bool) {
		t.Fatal("commit should not have fired")
	}, logrus.New())

	tr.AddedDocument(0, true)
	time.Sleep(50 * time.Millisecond)
}

func TestScheduleCommitWithinIsIdempotentTowardsEarlierDeadline(t *testing.T) {
	tr := New(Config{DocsUpperBound: -1, TimeUpperBound: -1}, func(openSearcher bool) {}, logrus.New())

	tr.ScheduleCommitWithin(time.Hour)
	first := tr.deadline

	tr.ScheduleCommitWithin(2 * time.Hour)
	require.Equal(t, first, tr.deadline, "a later schedule must not preempt an earlier one")

	tr.ScheduleCommitWithin(time.Minute)
	require.True(t, tr.deadline.Before(first), "an earlier schedule must win")
}

func TestDidCommitResetsPendingAndCancelsTimer(t *testing.T) {
	tr := New(Config{DocsUpperBound: -1, TimeUpperBound: time.Hour}, func(openSearcher bool) {}, logrus.New())

	tr.AddedDocument(0, false)
	tr.AddedDocument(0, false)
	assert.Equal(t, 2, tr.Pending())

	tr.DidCommit()
	assert.Equal(t, 0, tr.Pending())
	assert.Equal(t, int64(1), tr.CommitCount())

	tr.mu.Lock()
	assert.Nil(t, tr.timer)
	tr.mu.Unlock()
}

func TestCancelPendingCommit(t *testing.T) {
	tr := New(Config{DocsUpperBound: -1, TimeUpperBound: -1}, func(openSearcher bool) {
		t.Fatal("commit should have been cancelled")
	}, logrus.New())

	tr.ScheduleCommitWithin(20 * time.Millisecond)
	tr.CancelPendingCommit()
	time.Sleep(60 * time.Millisecond)
}
