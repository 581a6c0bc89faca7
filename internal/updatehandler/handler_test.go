package updatehandler

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardcore/updatecore/internal/semantics"
	"github.com/shardcore/updatecore/internal/updatelog"
	"github.com/shardcore/updatecore/internal/updatemodel"
	"github.com/shardcore/updatecore/internal/writer"
)

type fakeSchema struct {
	caps semantics.SchemaCaps
}

func (f fakeSchema) Caps() semantics.SchemaCaps { return f.caps }

func fullSchemaCaps() semantics.SchemaCaps {
	return semantics.SchemaCaps{HasUniqueKeyField: true, HasVersionField: true, HasUpdateLog: true, Generation: 1}
}

func newTestHandler(mode semantics.Mode) (*Handler, *writer.MemWriter, *updatelog.MemLog) {
	w := writer.NewMemWriter()
	log := updatelog.NewMemLog()
	h := New(Config{
		AutoCommitMaxDocs:     -1,
		AutoCommitMaxTime:     -1,
		AutoSoftCommitMaxDocs: -1,
		AutoSoftCommitMaxTime: -1,
		SemanticsMode:         mode,
	}, w, log, fakeSchema{caps: fullSchemaCaps()}, noopFingerprintCore{}, nil, logrus.New())
	return h, w, log
}

type noopFingerprintCore struct{}

func (noopFingerprintCore) VisibleVersions() map[updatemodel.Key]int64 { return nil }

func addCmd(id string, requestedVersion, version int64) updatemodel.AddCmd {
	return updatemodel.AddCmd{
		Doc:              updatemodel.Doc{Fields: map[string]interface{}{"id": id}},
		ID:               updatemodel.Key(id),
		IndexedID:        updatemodel.IndexedID(id),
		RequestedVersion: requestedVersion,
		Version:          version,
		IsLeaderLogic:    true,
		Flags:            updatemodel.FlagIgnoreAutocommit,
	}
}

// scenario 1: classic insert
func TestClassicInsert(t *testing.T) {
	h, w, _ := newTestHandler(semantics.Classic)

	n, err := h.AddDoc(context.Background(), addCmd("A", updatemodel.RequestedVersionInsertOnly, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, w.Len())
}

// scenario 2: update without existence in strict-update mode
func TestStrictUpdateRequiresExistingDocument(t *testing.T) {
	h, _, _ := newTestHandler(semantics.StrictUpdate)

	_, err := h.AddDoc(context.Background(), addCmd("A", 1234, 1234))
	require.Error(t, err)
	var notFound *updatemodel.DocDoesNotExistError
	assert.ErrorAs(t, err, &notFound)
}

// scenario 3: version conflict
func TestVersionConflict(t *testing.T) {
	h, _, _ := newTestHandler(semantics.VersionHybrid)

	_, err := h.AddDoc(context.Background(), addCmd("A", updatemodel.RequestedVersionInsertOnly, 10))
	require.NoError(t, err)

	_, err = h.AddDoc(context.Background(), addCmd("A", 11, 11))
	require.Error(t, err)
	var conflict *updatemodel.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(10), conflict.Current)
}

// scenario 4: partial batch
func TestPartialBatch(t *testing.T) {
	h, _, _ := newTestHandler(semantics.VersionHybrid)

	_, err := h.AddDoc(context.Background(), addCmd("A", updatemodel.RequestedVersionInsertOnly, 1))
	require.NoError(t, err)

	succeeded, err := h.AddBatch([]updatemodel.AddCmd{
		addCmd("A", updatemodel.RequestedVersionInsertOnly, 2),
		addCmd("B", updatemodel.RequestedVersionInsertOnly, 3),
	})
	require.Error(t, err)
	assert.Equal(t, 1, succeeded)

	var partial *updatemodel.PartialErrorsError
	require.ErrorAs(t, err, &partial)
	assert.Len(t, partial.Errors, 1)

	aErr, ok := partial.Errors[updatemodel.Key("A")]
	require.True(t, ok)
	var alreadyExists *updatemodel.DocAlreadyExistsError
	assert.ErrorAs(t, aErr, &alreadyExists)

	_, bFailed := partial.Errors[updatemodel.Key("B")]
	assert.False(t, bFailed)
}

// scenario 5: 50 concurrent optimistic-versioned increments on one key
func TestConcurrentOptimisticIncrement(t *testing.T) {
	h, w, _ := newTestHandler(semantics.VersionHybrid)

	_, err := h.AddDoc(context.Background(), updatemodel.AddCmd{
		Doc:              updatemodel.Doc{Fields: map[string]interface{}{"popularity": 0}},
		ID:               "A",
		IndexedID:        updatemodel.IndexedID("A"),
		RequestedVersion: updatemodel.RequestedVersionInsertOnly,
		Version:          1,
		IsLeaderLogic:    true,
		Flags:            updatemodel.FlagIgnoreAutocommit,
	})
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)

	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for {
				current, ok := h.log.LookupVersion("A")
				if !ok {
					continue
				}
				doc, _ := w.Get(updatemodel.IndexedID("A"))
				pop, _ := doc.Fields["popularity"].(int)

				cmd := updatemodel.AddCmd{
					Doc:              updatemodel.Doc{Fields: map[string]interface{}{"popularity": pop + 1}},
					ID:               "A",
					IndexedID:        updatemodel.IndexedID("A"),
					RequestedVersion: current,
					Version:          current + 1,
					IsLeaderLogic:    true,
					Flags:            updatemodel.FlagIgnoreAutocommit,
				}
				_, err := h.AddDoc(context.Background(), cmd)
				if err == nil {
					return
				}
				var conflict *updatemodel.VersionConflictError
				var notFound *updatemodel.DocDoesNotExistError
				var exists *updatemodel.DocAlreadyExistsError
				if assert.True(t, assertIsOneOf(err, &conflict, &notFound, &exists)) {
					continue
				}
				return
			}
		}()
	}

	wg.Wait()

	doc, ok := w.Get(updatemodel.IndexedID("A"))
	require.True(t, ok)
	assert.Equal(t, writers, doc.Fields["popularity"])
}

func assertIsOneOf(err error, targets ...interface{}) bool {
	for _, target := range targets {
		switch t := target.(type) {
		case **updatemodel.VersionConflictError:
			if e, ok := err.(*updatemodel.VersionConflictError); ok {
				*t = e
				return true
			}
		case **updatemodel.DocDoesNotExistError:
			if e, ok := err.(*updatemodel.DocDoesNotExistError); ok {
				*t = e
				return true
			}
		case **updatemodel.DocAlreadyExistsError:
			if e, ok := err.(*updatemodel.DocAlreadyExistsError); ok {
				*t = e
				return true
			}
		}
	}
	return false
}

func TestPrepareCommitDoesNotResetPendingOrOpenSearcher(t *testing.T) {
	h, _, _ := newTestHandler(semantics.Classic)

	_, err := h.AddDoc(context.Background(), addCmd("A", updatemodel.RequestedVersionInsertOnly, 1))
	require.NoError(t, err)
	require.Equal(t, 1, h.hardTracker.Pending())

	require.NoError(t, h.Commit(updatemodel.CommitCmd{PrepareCommit: true}))
	assert.Equal(t, 1, h.hardTracker.Pending())
}

func TestMatchAllDeleteByQueryWipesWithNoLogEntry(t *testing.T) {
	h, w, log := newTestHandler(semantics.Classic)

	_, err := h.AddDoc(context.Background(), addCmd("A", updatemodel.RequestedVersionInsertOnly, 1))
	require.NoError(t, err)
	require.Equal(t, 1, w.Len())

	query := "*:*"
	err = h.DeleteByQuery(context.Background(), updatemodel.DeleteCmd{
		Query:   &query,
		Version: updatemodel.MatchAllDeleteVersion,
		Flags:   updatemodel.FlagIgnoreAutocommit,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, w.Len())

	recent, err := log.GetRecentUpdates(-1)
	require.NoError(t, err)
	for _, r := range recent {
		assert.NotEqual(t, updatelog.OpDeleteByQuery, r.Op, "match-all wipe must not write a log entry")
	}
}

func TestRollbackRejectedInClusterAwareMode(t *testing.T) {
	w := writer.NewMemWriter()
	log := updatelog.NewMemLog()
	h := New(Config{ClusterAware: true, AutoCommitMaxDocs: -1, AutoCommitMaxTime: -1, AutoSoftCommitMaxDocs: -1, AutoSoftCommitMaxTime: -1},
		w, log, fakeSchema{caps: fullSchemaCaps()}, noopFingerprintCore{}, nil, logrus.New())

	err := h.Rollback(updatemodel.RollbackCmd{})
	require.Error(t, err)
}

func TestCloseRunsMinimalCommitWhenConfigured(t *testing.T) {
	w := writer.NewMemWriter()
	log := updatelog.NewMemLog()
	h := New(Config{
		CommitOnClose: true, AutoCommitMaxDocs: -1, AutoCommitMaxTime: -1, AutoSoftCommitMaxDocs: -1, AutoSoftCommitMaxTime: -1,
		SemanticsMode: semantics.Classic,
	}, w, log, fakeSchema{caps: fullSchemaCaps()}, noopFingerprintCore{}, nil, logrus.New())

	_, err := h.AddDoc(context.Background(), addCmd("A", updatemodel.RequestedVersionInsertOnly, 1))
	require.NoError(t, err)
	require.True(t, w.HasUncommittedChanges())

	require.NoError(t, h.Close(context.Background()))
	assert.False(t, w.HasUncommittedChanges())
}

func TestSemanticsModeOverrideRejectedWhenPrereqsUnmet(t *testing.T) {
	w := writer.NewMemWriter()
	log := updatelog.NewMemLog()
	h := New(Config{AutoCommitMaxDocs: -1, AutoCommitMaxTime: -1, AutoSoftCommitMaxDocs: -1, AutoSoftCommitMaxTime: -1, SemanticsMode: semantics.Classic},
		w, log, fakeSchema{caps: semantics.SchemaCaps{Generation: 1}}, noopFingerprintCore{}, nil, logrus.New())

	cmd := addCmd("A", updatemodel.RequestedVersionInsertOnly, 1)
	cmd.SemanticsModeOverride = string(semantics.VersionHybrid)

	_, err := h.AddDoc(context.Background(), cmd)
	require.Error(t, err)
	var wrongUsage updatemodel.WrongUsageError
	require.ErrorAs(t, err, &wrongUsage)
}

func TestIDTermUsesIndexedID(t *testing.T) {
	term := idTerm(updatemodel.IndexedID("abc"))
	assert.Equal(t, []byte("abc"), term.Value)
	assert.Equal(t, idField, term.Field)
}
