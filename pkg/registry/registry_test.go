package registry_test

import (
	"context"
	"testing"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lookup(t *testing.T) {
	r := registry.NewRegistry()
	r.RegisterHandlerFunc("greet", func(context.Context, domain.State) (domain.State, error) {
		return domain.State{"greeting": "hi"}, nil
	})

	h, err := r.Handler("greet", nil)
	require.NoError(t, err)
	out, err := h.Invoke(context.Background(), domain.State{})
	require.NoError(t, err)
	assert.Equal(t, "hi", out["greeting"])

	_, err = r.Handler("greet", map[string]any{"x": 1})
	assert.ErrorContains(t, err, "takes no arguments")

	_, err = r.Handler("missing", nil)
	assert.ErrorContains(t, err, "handler not found")

	_, err = r.Router("missing", nil)
	assert.ErrorContains(t, err, "router not found")
}

func TestDefault_Names(t *testing.T) {
	r := registry.Default()
	assert.Equal(t, []string{"append", "assign", "noop", "require", "step"}, r.Handlers())
	assert.Equal(t, []string{"field", "truthy"}, r.Routers())
}

func TestStep_FridgeNodes(t *testing.T) {
	r := registry.Default()
	ctx := context.Background()

	put, err := r.Handler("step", map[string]any{
		"require": map[string]any{"door_open": true},
		"set":     map[string]any{"item_inside": true},
	})
	require.NoError(t, err)

	_, err = put.Invoke(ctx, domain.State{"door_open": false})
	assert.ErrorContains(t, err, "requires door_open == true")

	out, err := put.Invoke(ctx, domain.State{"door_open": true})
	require.NoError(t, err)
	assert.Equal(t, domain.State{"item_inside": true}, out)

	closeDoor, err := r.Handler("step", map[string]any{
		"set": map[string]any{"door_open": false},
		"switch": map[string]any{
			"field": "human_decision",
			"cases": map[string]any{"no": map[string]any{"item_inside": false}},
		},
	})
	require.NoError(t, err)

	out, err = closeDoor.Invoke(ctx, domain.State{})
	require.NoError(t, err)
	assert.Equal(t, domain.State{"door_open": false}, out)

	out, err = closeDoor.Invoke(ctx, domain.State{"human_decision": "no"})
	require.NoError(t, err)
	assert.Equal(t, domain.State{"door_open": false, "item_inside": false}, out)
}

func TestStep_RejectsUnknownArgs(t *testing.T) {
	_, err := registry.Default().Handler("step", map[string]any{"sett": map[string]any{}})
	assert.Error(t, err)

	_, err = registry.Default().Handler("step", map[string]any{"switch": map[string]any{"cases": map[string]any{}}})
	assert.ErrorContains(t, err, "field is required")
}

func TestStep_RequireComparesNumbersLoosely(t *testing.T) {
	h, err := registry.Default().Handler("require", map[string]any{"attempts": 2})
	require.NoError(t, err)

	_, err = h.Invoke(context.Background(), domain.State{"attempts": float64(2)})
	assert.NoError(t, err)
}

func TestStep_UpdateIsNotAliased(t *testing.T) {
	h, err := registry.Default().Handler("assign", map[string]any{"tags": []any{"a"}})
	require.NoError(t, err)

	first, err := h.Invoke(context.Background(), domain.State{})
	require.NoError(t, err)
	first["tags"].([]any)[0] = "mutated"

	second, err := h.Invoke(context.Background(), domain.State{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, second["tags"])
}

func TestFieldRouter(t *testing.T) {
	ctx := context.Background()
	rt, err := registry.Default().Router("field", map[string]any{"field": "human_decision"})
	require.NoError(t, err)

	key, err := rt.Route(ctx, domain.State{"human_decision": "yes"})
	require.NoError(t, err)
	assert.Equal(t, "yes", key)

	_, err = rt.Route(ctx, domain.State{})
	assert.ErrorIs(t, err, domain.ErrDecisionPending)

	withDefault := registry.FieldRouter("human_decision", "no")
	key, err = withDefault.Route(ctx, domain.State{"human_decision": nil})
	require.NoError(t, err)
	assert.Equal(t, "no", key)

	_, err = registry.Default().Router("field", nil)
	assert.ErrorContains(t, err, "field is required")
}

func TestTruthyRouter(t *testing.T) {
	rt := registry.TruthyRouter("tool_calls")
	for _, tc := range []struct {
		value any
		want  string
	}{
		{nil, "false"},
		{[]any{}, "false"},
		{[]any{"search"}, "true"},
		{"", "false"},
		{0, "false"},
		{float64(3), "true"},
		{true, "true"},
	} {
		key, err := rt.Route(context.Background(), domain.State{"tool_calls": tc.value})
		require.NoError(t, err)
		assert.Equal(t, tc.want, key, "%v", tc.value)
	}
}
