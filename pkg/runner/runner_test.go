package runner_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/registry"
	"github.com/aretw0/pergola/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fridgeEngine(t *testing.T, policy domain.InterruptPolicy) *pergola.Engine {
	t.Helper()
	step := func(args registry.StepArgs) graph.Handler {
		h, err := registry.Step(args)
		require.NoError(t, err)
		return h
	}
	plan, err := graph.New("fridge").
		AddNode("open", step(registry.StepArgs{Set: map[string]any{"door_open": true}})).
		AddNode("put", step(registry.StepArgs{
			Require: map[string]any{"door_open": true},
			Set:     map[string]any{"item_inside": true},
		})).
		AddNode("close", step(registry.StepArgs{
			Set: map[string]any{"door_open": false},
			Switch: &registry.SwitchArgs{
				Field: "human_decision",
				Cases: map[string]map[string]any{"no": {"item_inside": false}},
			},
		})).
		SetEntry("open").
		AddEdge("open", "put").
		AddEdge("put", "close").
		AddEdge("close", domain.END).
		Compile(policy)
	require.NoError(t, err)

	eng, err := pergola.New(plan)
	require.NoError(t, err)
	return eng
}

var beforeClose = domain.InterruptPolicy{Before: []string{"close"}}

func TestRunner_TextReviewerPatchesAndCompletes(t *testing.T) {
	eng := fridgeEngine(t, beforeClose)
	out := &bytes.Buffer{}

	r := runner.NewRunner(eng,
		runner.WithRunID("text"),
		runner.WithInitialState(domain.State{"door_open": false, "item_inside": false}),
		runner.WithReviewer(runner.NewTextReviewer(strings.NewReader("human_decision=no\n\n"), out)),
	)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, false, res.State["item_inside"])
	assert.Equal(t, "no", res.State["human_decision"])

	printed := out.String()
	assert.Contains(t, printed, "[step 1] open -> put")
	assert.Contains(t, printed, `[suspended] run text at "close" (interrupt_before)`)
	assert.Contains(t, printed, "item_inside = true")
	assert.Contains(t, printed, "[done] run text completed")
}

func TestRunner_QuitLeavesRunSuspended(t *testing.T) {
	for name, input := range map[string]string{"quit": "quit\n", "eof": ""} {
		t.Run(name, func(t *testing.T) {
			eng := fridgeEngine(t, beforeClose)
			r := runner.NewRunner(eng,
				runner.WithRunID("quit"),
				runner.WithReviewer(runner.NewTextReviewer(strings.NewReader(input), io.Discard)),
			)
			res, err := r.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, domain.StatusSuspended, res.Status)

			snap, err := eng.State(context.Background(), "quit")
			require.NoError(t, err)
			assert.True(t, snap.Interrupted)
			assert.Equal(t, "close", snap.Next)
		})
	}
}

func TestRunner_TextReviewerRetriesBadLines(t *testing.T) {
	eng := fridgeEngine(t, beforeClose)
	out := &bytes.Buffer{}
	r := runner.NewRunner(eng,
		runner.WithRunID("retry"),
		runner.WithReviewer(runner.NewTextReviewer(strings.NewReader("not an assignment\nhuman_decision=yes\n\n"), out)),
	)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, true, res.State["item_inside"])
	assert.Contains(t, out.String(), "Error: expected key=value")
}

func TestRunner_JSONReviewer(t *testing.T) {
	eng := fridgeEngine(t, beforeClose)
	out := &bytes.Buffer{}
	r := runner.NewRunner(eng,
		runner.WithRunID("json"),
		runner.WithReviewer(runner.NewJSONReviewer(strings.NewReader(`{"human_decision":"no"}`+"\n"), out)),
	)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, false, res.State["item_inside"])

	var types []string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var ev runner.Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"advanced", "advanced", "suspended", "advanced", "completed"}, types)
}

func TestRunner_JSONReviewerRejectsBadPatch(t *testing.T) {
	eng := fridgeEngine(t, beforeClose)
	r := runner.NewRunner(eng,
		runner.WithRunID("bad-json"),
		runner.WithReviewer(runner.NewJSONReviewer(strings.NewReader("{not json\n"), io.Discard)),
	)
	res, err := r.Run(context.Background())
	assert.ErrorContains(t, err, "failed to decode patch")
	assert.Equal(t, domain.StatusSuspended, res.Status)
}

func TestRunner_JSONReviewerStripsControlCharacters(t *testing.T) {
	eng := fridgeEngine(t, beforeClose)
	r := runner.NewRunner(eng,
		runner.WithRunID("json-escape"),
		runner.WithReviewer(runner.NewJSONReviewer(strings.NewReader(`{"human_decision":"no\u001b"}`+"\n"), io.Discard)),
	)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no", res.State["human_decision"])
	assert.Equal(t, false, res.State["item_inside"])
}

func TestRunner_PolicyDecidesWithoutReviewer(t *testing.T) {
	eng := fridgeEngine(t, beforeClose)
	r := runner.NewRunner(eng,
		runner.WithRunID("policy"),
		runner.WithPolicy(runner.MultiPolicy(
			runner.StaticPatch("elsewhere", domain.State{"x": 1}),
			runner.StaticPatch("close", domain.State{"human_decision": "no"}),
		)),
	)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, false, res.State["item_inside"])
	_, leaked := res.State["x"]
	assert.False(t, leaked)
}

func TestRunner_NoReviewerStopsAtSuspension(t *testing.T) {
	eng := fridgeEngine(t, beforeClose)
	res, err := runner.NewRunner(eng, runner.WithRunID("headless")).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspended, res.Status)
}

func TestRunner_AutoResumeLeavesDecisionsToReviewer(t *testing.T) {
	plan, err := graph.New("decide").
		AddNode("ask", graph.HandlerFunc(func(context.Context, domain.State) (domain.State, error) { return nil, nil })).
		AddNode("yes", graph.HandlerFunc(func(context.Context, domain.State) (domain.State, error) {
			return domain.State{"answered": "yes"}, nil
		})).
		SetEntry("ask").
		AddConditionalEdge("ask", registry.FieldRouter("answer", ""), map[string]string{"y": "yes", "n": domain.END}).
		AddEdge("yes", domain.END).
		Compile(domain.InterruptPolicy{})
	require.NoError(t, err)
	eng, err := pergola.New(plan)
	require.NoError(t, err)

	res, err := runner.NewRunner(eng, runner.WithRunID("d"), runner.WithPolicy(runner.AutoResume())).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDecisionPending, res.Reason)

	res, err = runner.NewRunner(eng,
		runner.WithRunID("d"),
		runner.WithResume(nil),
		runner.WithPolicy(runner.AutoResume()),
		runner.WithReviewer(runner.NewTextReviewer(strings.NewReader("answer=y\n\n"), io.Discard)),
	).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "yes", res.State["answered"])
}

func TestRunner_MaxRounds(t *testing.T) {
	plan, err := graph.New("loop").
		AddNode("tick", graph.HandlerFunc(func(context.Context, domain.State) (domain.State, error) { return nil, nil })).
		SetEntry("tick").
		AddEdge("tick", "tick").
		Compile(domain.InterruptPolicy{Before: []string{"tick"}})
	require.NoError(t, err)
	eng, err := pergola.New(plan)
	require.NoError(t, err)

	_, err = runner.NewRunner(eng,
		runner.WithRunID("loop"),
		runner.WithPolicy(runner.AutoResume()),
		runner.WithMaxRounds(3),
	).Run(context.Background())
	assert.ErrorIs(t, err, runner.ErrTooManyRounds)
}

func TestRunner_ResumeExistingRun(t *testing.T) {
	eng := fridgeEngine(t, beforeClose)
	ctx := context.Background()
	_, err := eng.Start(ctx, "later", domain.State{"door_open": false})
	require.NoError(t, err)

	res, err := runner.NewRunner(eng, runner.WithRunID("later"), runner.WithResume(domain.State{"human_decision": "no"})).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, false, res.State["item_inside"])
}

func TestRunner_CancelDuringReview(t *testing.T) {
	eng := fridgeEngine(t, beforeClose)
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := runner.NewRunner(eng,
		runner.WithRunID("cancel"),
		runner.WithReviewer(runner.NewTextReviewer(pr, io.Discard)),
	).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Equal(t, domain.StatusSuspended, res.Status, "the run stays resumable")
}

func TestRunner_RequiresEngine(t *testing.T) {
	_, err := runner.NewRunner(nil).Run(context.Background())
	assert.Error(t, err)
}

func TestRunner_StepErrorIsReturned(t *testing.T) {
	eng := fridgeEngine(t, domain.InterruptPolicy{})
	res, err := runner.NewRunner(eng,
		runner.WithRunID("fail"),
		runner.WithResume(nil),
	).Run(context.Background())
	assert.True(t, errors.Is(err, domain.ErrRunNotFound))
	assert.Nil(t, res)
}
