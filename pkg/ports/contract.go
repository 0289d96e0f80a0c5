package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCheckpointStoreContract runs a suite of tests to verify that a CheckpointStore
// implementation adheres to the defined interface contract.
// Values are restricted to strings, bools and []any so that JSON-backed stores qualify.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	runID := "contract-run-" + time.Now().Format("20060102150405.000000000")

	cp := func(id string, step int, next string, state domain.State) *domain.Checkpoint {
		return &domain.Checkpoint{
			RunID:     id,
			Step:      step,
			State:     state,
			Next:      next,
			Phase:     domain.PhaseBefore,
			Status:    domain.StatusRunning,
			CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
	}

	t.Run("Save and LoadLatest", func(t *testing.T) {
		id := runID + "-latest"
		defer func() { _ = store.Delete(ctx, id) }()

		require.NoError(t, store.Save(ctx, cp(id, 0, "open", domain.State{"door_open": false})))
		require.NoError(t, store.Save(ctx, cp(id, 1, "put", domain.State{"door_open": true, "log": []any{"open"}})))

		latest, err := store.LoadLatest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, latest.Step)
		assert.Equal(t, "put", latest.Next)
		assert.Equal(t, true, latest.State["door_open"])
		assert.Equal(t, []any{"open"}, latest.State["log"])
		assert.Equal(t, domain.PhaseBefore, latest.Phase)
		assert.Equal(t, domain.StatusRunning, latest.Status)
	})

	t.Run("LoadAt", func(t *testing.T) {
		id := runID + "-at"
		defer func() { _ = store.Delete(ctx, id) }()

		require.NoError(t, store.Save(ctx, cp(id, 0, "open", domain.State{"v": "zero"})))
		require.NoError(t, store.Save(ctx, cp(id, 1, "put", domain.State{"v": "one"})))

		first, err := store.LoadAt(ctx, id, 0)
		require.NoError(t, err)
		assert.Equal(t, "zero", first.State["v"])

		_, err = store.LoadAt(ctx, id, 7)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)

		_, err = store.LoadAt(ctx, "missing-"+id, 0)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.LoadLatest(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
		assert.True(t, domain.IsNotFound(err))

		_, err = store.PatchLatest(ctx, "non-existent-"+runID, domain.State{"a": "b"}, nil)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Save rejects stale step", func(t *testing.T) {
		id := runID + "-stale"
		defer func() { _ = store.Delete(ctx, id) }()

		require.NoError(t, store.Save(ctx, cp(id, 0, "a", domain.State{})))
		require.NoError(t, store.Save(ctx, cp(id, 1, "b", domain.State{})))
		err := store.Save(ctx, cp(id, 1, "c", domain.State{}))
		assert.ErrorIs(t, err, domain.ErrCheckpointConflict)

		latest, err := store.LoadLatest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "b", latest.Next)
	})

	t.Run("PatchLatest merges in place", func(t *testing.T) {
		id := runID + "-patch"
		defer func() { _ = store.Delete(ctx, id) }()

		require.NoError(t, store.Save(ctx, cp(id, 0, "open", domain.State{"keep": "x"})))
		require.NoError(t, store.Save(ctx, cp(id, 1, "close", domain.State{"keep": "x", "log": []any{"a"}})))

		patched, err := store.PatchLatest(ctx, id, domain.State{"human_decision": "no", "log": "b"}, domain.Fields{"log": domain.Append})
		require.NoError(t, err)
		assert.Equal(t, 1, patched.Step)
		assert.Equal(t, "no", patched.State["human_decision"])

		latest, err := store.LoadLatest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, latest.Step, "patch must not add a checkpoint")
		assert.Equal(t, "x", latest.State["keep"])
		assert.Equal(t, "no", latest.State["human_decision"])
		assert.Equal(t, []any{"a", "b"}, latest.State["log"])

		history, err := store.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, 2)
		_, touched := history[0].State["human_decision"]
		assert.False(t, touched, "older checkpoints are immutable")
	})

	t.Run("Loaded checkpoints are copies", func(t *testing.T) {
		id := runID + "-copy"
		defer func() { _ = store.Delete(ctx, id) }()

		require.NoError(t, store.Save(ctx, cp(id, 0, "a", domain.State{"v": "orig"})))
		loaded, err := store.LoadLatest(ctx, id)
		require.NoError(t, err)
		loaded.State["v"] = "mutated"

		again, err := store.LoadLatest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "orig", again.State["v"])
	})

	t.Run("History ascending", func(t *testing.T) {
		id := runID + "-history"
		defer func() { _ = store.Delete(ctx, id) }()

		for i := 0; i < 5; i++ {
			require.NoError(t, store.Save(ctx, cp(id, i, "n", domain.State{})))
		}
		history, err := store.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, 5)
		for i, h := range history {
			assert.Equal(t, i, h.Step)
		}

		_, err = store.History(ctx, "missing-"+id)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		id := runID + "-delete"
		require.NoError(t, store.Save(ctx, cp(id, 0, "a", domain.State{})))

		require.NoError(t, store.Delete(ctx, id), "Delete should not return error")
		_, err := store.LoadLatest(ctx, id)
		assert.ErrorIs(t, err, domain.ErrRunNotFound, "LoadLatest after Delete should return ErrRunNotFound")

		assert.NoError(t, store.Delete(ctx, id), "deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := runID + "-list-1"
		id2 := runID + "-list-2"
		require.NoError(t, store.Save(ctx, cp(id1, 0, "a", domain.State{})))
		require.NoError(t, store.Save(ctx, cp(id2, 0, "a", domain.State{})))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		runs, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, runs, id1)
		assert.Contains(t, runs, id2)
	})

	t.Run("Distinct runs in parallel", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := runID + "-parallel-" + string(rune('a'+i))
				for step := 0; step < 3; step++ {
					if err := store.Save(ctx, cp(id, step, "n", domain.State{})); err != nil {
						errs <- err
						return
					}
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
		for i := 0; i < 8; i++ {
			id := runID + "-parallel-" + string(rune('a'+i))
			latest, err := store.LoadLatest(ctx, id)
			if assert.NoError(t, err) {
				assert.Equal(t, 2, latest.Step)
			}
			_ = store.Delete(ctx, id)
		}
	})
}
