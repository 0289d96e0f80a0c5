package pergola_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/pkg/adapters/file"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newEngine(t *testing.T, policy domain.InterruptPolicy, opts ...pergola.Option) *pergola.Engine {
	t.Helper()
	plan, err := fridge(policy)
	require.NoError(t, err)
	eng, err := pergola.New(plan, opts...)
	require.NoError(t, err)
	return eng
}

func TestEngine_FridgeScenarios(t *testing.T) {
	stores := map[string]func(t *testing.T) pergola.Option{
		"memory": func(*testing.T) pergola.Option { return pergola.WithStore(memory.NewStore()) },
		"file":   func(t *testing.T) pergola.Option { return pergola.WithStore(file.New(t.TempDir())) },
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("runs to completion", func(t *testing.T) {
				eng := newEngine(t, domain.InterruptPolicy{}, store(t))
				res, err := eng.Start(ctx, "complete", domain.State{"door_open": false, "item_inside": false})
				require.NoError(t, err)

				assert.Equal(t, domain.StatusCompleted, res.Status)
				assert.Equal(t, domain.END, res.Next)
				assert.Equal(t, false, res.State["door_open"])
				assert.Equal(t, true, res.State["item_inside"])
				assert.Len(t, res.Events, 4)
			})

			t.Run("interrupt before close and change of mind", func(t *testing.T) {
				eng := newEngine(t, domain.InterruptPolicy{Before: []string{"close"}}, store(t))
				res, err := eng.Start(ctx, "interrupt", domain.State{"door_open": false, "item_inside": false})
				require.NoError(t, err)

				assert.Equal(t, domain.StatusSuspended, res.Status)
				assert.True(t, res.Interrupted)
				assert.Equal(t, domain.ReasonInterruptBefore, res.Reason)
				assert.Equal(t, "close", res.Next)
				assert.Equal(t, true, res.State["door_open"])

				res, err = eng.Resume(ctx, "interrupt", domain.State{"human_decision": "no"})
				require.NoError(t, err)
				assert.Equal(t, domain.StatusCompleted, res.Status)
				assert.Equal(t, false, res.State["door_open"])
				assert.Equal(t, false, res.State["item_inside"])
				assert.Equal(t, "no", res.State["human_decision"])
			})
		})
	}
}

func TestEngine_GeneratedRunID(t *testing.T) {
	var n atomic.Int32
	eng := newEngine(t, domain.InterruptPolicy{}, pergola.WithRunIDGenerator(func() string {
		return "gen-" + string(rune('a'+n.Add(1)-1))
	}))

	res, err := eng.Start(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "gen-a", res.RunID)

	runs, err := eng.Runs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gen-a"}, runs)
}

func TestEngine_DefaultRunIDIsUUID(t *testing.T) {
	eng := newEngine(t, domain.InterruptPolicy{})
	res, err := eng.Start(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Len(t, res.RunID, 36)
}

func TestEngine_StartTwiceFails(t *testing.T) {
	eng := newEngine(t, domain.InterruptPolicy{})
	ctx := context.Background()

	_, err := eng.Start(ctx, "dup", nil)
	require.NoError(t, err)
	_, err = eng.Start(ctx, "dup", nil)
	assert.ErrorIs(t, err, domain.ErrRunExists)
}

func TestEngine_ResumeUnknownRun(t *testing.T) {
	eng := newEngine(t, domain.InterruptPolicy{})
	_, err := eng.Resume(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	_, err = eng.State(context.Background(), "ghost")
	assert.True(t, domain.IsNotFound(err))
}

func TestEngine_InspectionSurface(t *testing.T) {
	eng := newEngine(t, domain.InterruptPolicy{Before: []string{"close"}})
	ctx := context.Background()

	_, err := eng.Start(ctx, "inspect", domain.State{"door_open": false})
	require.NoError(t, err)

	snap, err := eng.State(ctx, "inspect")
	require.NoError(t, err)
	assert.Equal(t, "close", snap.Next)
	assert.True(t, snap.Interrupted)
	assert.Equal(t, domain.StatusSuspended, snap.Status)

	history, err := eng.History(ctx, "inspect")
	require.NoError(t, err)
	require.Len(t, history, snap.Step+1)
	for i, h := range history {
		assert.Equal(t, i, h.Step)
	}
	assert.Equal(t, "open", history[0].Next)

	first, err := eng.Checkpoint(ctx, "inspect", 0)
	require.NoError(t, err)
	assert.Equal(t, false, first.State["door_open"])

	_, err = eng.Checkpoint(ctx, "inspect", 99)
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
}

func TestEngine_PatchState(t *testing.T) {
	plan, err := graph.New("patchable").
		AddNode("work", graph.HandlerFunc(func(context.Context, domain.State) (domain.State, error) {
			return domain.State{"log": "worked"}, nil
		})).
		SetEntry("work").
		AddEdge("work", domain.END).
		Field("log", domain.Append).
		Schema(schema.Schema{"approved": schema.Bool()}).
		Compile(domain.InterruptPolicy{Before: []string{"work"}})
	require.NoError(t, err)
	eng, err := pergola.New(plan)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := eng.Start(ctx, "p", domain.State{"log": []any{"start"}})
	require.NoError(t, err)
	stepBefore := res.Step

	diff, err := eng.PatchState(ctx, "p", domain.State{"approved": true, "log": "reviewed"})
	require.NoError(t, err)
	assert.Equal(t, stepBefore, diff.Step)
	assert.Equal(t, true, diff.Changed["approved"])
	assert.Equal(t, []any{"start", "reviewed"}, diff.Changed["log"])

	snap, err := eng.State(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, stepBefore, snap.Step, "patching must not add a checkpoint")

	_, err = eng.PatchState(ctx, "p", domain.State{"approved": "yes"})
	assert.Error(t, err, "schema violations are rejected")

	res, err = eng.Resume(ctx, "p", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"start", "reviewed", "worked"}, res.State["log"])
}

func TestEngine_FailedStepIsResumable(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)

	plan, err := graph.New("flaky").
		AddNode("call", graph.HandlerFunc(func(context.Context, domain.State) (domain.State, error) {
			if broken.Load() {
				return nil, errors.New("upstream unavailable")
			}
			return domain.State{"done": true}, nil
		})).
		SetEntry("call").
		AddEdge("call", domain.END).
		Compile(domain.InterruptPolicy{})
	require.NoError(t, err)
	eng, err := pergola.New(plan)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := eng.Start(ctx, "flaky", nil)
	var herr *domain.HandlerError
	require.ErrorAs(t, err, &herr)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Step)
	assert.Equal(t, "call", res.Next)
	assert.Equal(t, domain.StatusFailed, res.Status)

	snap, err := eng.State(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, snap.Status, "the failure is not checkpointed")

	broken.Store(false)
	res, err = eng.Resume(ctx, "flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, true, res.State["done"])
}

func TestEngine_ConcurrentResumesAreSerialized(t *testing.T) {
	store := memory.NewStore()
	eng := newEngine(t, domain.InterruptPolicy{Before: []string{"close"}}, pergola.WithStore(store))
	ctx := context.Background()

	_, err := eng.Start(ctx, "race", domain.State{"door_open": false})
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			res, err := eng.Resume(ctx, "race", nil)
			if err != nil {
				return err
			}
			if res.Status != domain.StatusCompleted {
				return errors.New("resume did not complete the run")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	history, err := store.History(ctx, "race")
	require.NoError(t, err)
	completed := 0
	for _, cp := range history {
		if cp.Status == domain.StatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed, "close must run exactly once")
}

func TestEngine_DistinctRunsInParallel(t *testing.T) {
	eng := newEngine(t, domain.InterruptPolicy{})
	ctx := context.Background()

	var g errgroup.Group
	for _, id := range []string{"a", "b", "c", "d"} {
		g.Go(func() error {
			res, err := eng.Start(ctx, id, domain.State{"door_open": false})
			if err == nil && res.Status != domain.StatusCompleted {
				err = errors.New(id + " did not complete")
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
}

func TestEngine_HooksAndClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var (
		mu      sync.Mutex
		entered []string
		stops   []domain.EventType
	)
	hooks := domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			mu.Lock()
			entered = append(entered, e.Node)
			mu.Unlock()
		},
		OnSuspend: func(_ context.Context, e *domain.RunEvent) {
			mu.Lock()
			stops = append(stops, e.Type)
			mu.Unlock()
		},
		OnComplete: func(_ context.Context, e *domain.RunEvent) {
			mu.Lock()
			stops = append(stops, e.Type)
			mu.Unlock()
		},
	}
	eng := newEngine(t, domain.InterruptPolicy{Before: []string{"close"}},
		pergola.WithLifecycleHooks(hooks),
		pergola.WithClock(func() time.Time { return fixed }),
	)
	ctx := context.Background()

	_, err := eng.Start(ctx, "hooks", nil)
	require.NoError(t, err)
	_, err = eng.Resume(ctx, "hooks", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"open", "put", "close"}, entered)
	assert.Equal(t, []domain.EventType{domain.EventSuspend, domain.EventComplete}, stops)

	snap, err := eng.State(ctx, "hooks")
	require.NoError(t, err)
	assert.True(t, snap.CreatedAt.Equal(fixed))
}

func TestEngine_MaxStepsOnCycle(t *testing.T) {
	plan, err := graph.New("loop").
		AddNode("spin", graph.HandlerFunc(func(_ context.Context, s domain.State) (domain.State, error) {
			n, _ := s["n"].(int)
			return domain.State{"n": n + 1}, nil
		})).
		SetEntry("spin").
		AddEdge("spin", "spin").
		Compile(domain.InterruptPolicy{})
	require.NoError(t, err)
	eng, err := pergola.New(plan, pergola.WithMaxSteps(10))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := eng.Start(ctx, "loop", domain.State{"n": 0})
	require.ErrorIs(t, err, domain.ErrStepLimit)
	assert.Equal(t, 10, res.State["n"])
	assert.Equal(t, domain.StatusRunning, res.Status, "a step budget is not a step failure")

	res, err = eng.Resume(ctx, "loop", nil)
	require.ErrorIs(t, err, domain.ErrStepLimit, "each call gets its own budget")
	assert.Equal(t, 20, res.State["n"])
}

func TestEngine_ManualStepping(t *testing.T) {
	eng := newEngine(t, domain.InterruptPolicy{})
	ctx := context.Background()

	run, err := eng.StartRun(ctx, "manual", domain.State{"door_open": false})
	require.NoError(t, err)
	defer run.Close()

	first, err := run.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StepAdvanced, first.Kind)
	assert.Equal(t, "open", first.Node)
	assert.Equal(t, "put", run.Latest().Next)

	// The handle holds the lock, so another writer must wait.
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = eng.PatchState(waitCtx, "manual", domain.State{"x": 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_Delete(t *testing.T) {
	eng := newEngine(t, domain.InterruptPolicy{})
	ctx := context.Background()

	_, err := eng.Start(ctx, "gone", nil)
	require.NoError(t, err)
	require.NoError(t, eng.Delete(ctx, "gone"))

	_, err = eng.State(ctx, "gone")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestNew_RequiresPlan(t *testing.T) {
	_, err := pergola.New(nil)
	assert.Error(t, err)
}

func TestEngine_Stream(t *testing.T) {
	eng := newEngine(t, domain.InterruptPolicy{Before: []string{"close"}})
	ctx := context.Background()

	var kinds []domain.StepKind
	for res, err := range eng.Stream(ctx, "stream", domain.State{"door_open": false, "item_inside": false}) {
		require.NoError(t, err)
		kinds = append(kinds, res.Kind)
	}
	assert.Equal(t, []domain.StepKind{domain.StepAdvanced, domain.StepAdvanced, domain.StepSuspended}, kinds)

	kinds = nil
	var last domain.StepResult
	for res, err := range eng.StreamResume(ctx, "stream", domain.State{"human_decision": "no"}) {
		require.NoError(t, err)
		kinds = append(kinds, res.Kind)
		last = res
	}
	assert.Equal(t, []domain.StepKind{domain.StepAdvanced, domain.StepCompleted}, kinds)
	assert.Equal(t, false, last.State["item_inside"])

	for _, err := range eng.StreamResume(ctx, "ghost", nil) {
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	}
}

func TestEngine_StreamBreakReleasesRun(t *testing.T) {
	eng := newEngine(t, domain.InterruptPolicy{})
	ctx := context.Background()

	for res, err := range eng.Stream(ctx, "partial", domain.State{"door_open": false}) {
		require.NoError(t, err)
		assert.Equal(t, "open", res.Node)
		break
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := eng.Resume(ctx, "partial", nil)
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, res.Status)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("resume blocked after the stream was abandoned")
	}
}
