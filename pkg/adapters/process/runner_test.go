package process

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
}

func TestRunner_Handler(t *testing.T) {
	skipOnWindows(t)
	r := NewRunner()
	r.Register("put", "sh", "-c", `read state; echo '{"item_inside": true, "seen": '"$state"'}'`)
	r.Register("quiet", "true")
	r.Register("env", "sh", "-c", `echo "{\"item\": \"$PERGOLA_ARG_ITEM\"}"`)
	r.Register("broken", "sh", "-c", "echo boom >&2; exit 3")
	r.Register("chatty", "echo", "not json")
	ctx := context.Background()

	t.Run("state on stdin, update on stdout", func(t *testing.T) {
		h, err := r.Handler("put", nil)
		require.NoError(t, err)
		update, err := h.Invoke(ctx, domain.State{"door_open": true})
		require.NoError(t, err)
		assert.Equal(t, true, update["item_inside"])
		assert.Equal(t, map[string]any{"door_open": true}, update["seen"])
	})

	t.Run("empty output is no update", func(t *testing.T) {
		h, err := r.Handler("quiet", nil)
		require.NoError(t, err)
		update, err := h.Invoke(ctx, domain.State{})
		require.NoError(t, err)
		assert.Nil(t, update)
	})

	t.Run("args in environment", func(t *testing.T) {
		h, err := r.Handler("env", map[string]any{"item": "elephant"})
		require.NoError(t, err)
		update, err := h.Invoke(ctx, domain.State{})
		require.NoError(t, err)
		assert.Equal(t, "elephant", update["item"])
	})

	t.Run("non-zero exit carries stderr", func(t *testing.T) {
		h, err := r.Handler("broken", nil)
		require.NoError(t, err)
		_, err = h.Invoke(ctx, domain.State{})
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("non-object output fails", func(t *testing.T) {
		h, err := r.Handler("chatty", nil)
		require.NoError(t, err)
		_, err = h.Invoke(ctx, domain.State{})
		assert.ErrorContains(t, err, "JSON object")
	})

	t.Run("unregistered tool", func(t *testing.T) {
		_, err := r.Handler("hacker_script", nil)
		assert.ErrorContains(t, err, "not registered")
	})
}

func TestRunner_Timeout(t *testing.T) {
	skipOnWindows(t)
	r := NewRunner(WithTools(map[string]ToolConfig{
		"slow": {Command: "sleep", Args: []string{"5"}, Timeout: "50ms"},
	}))
	h, err := r.Handler("slow", nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = h.Invoke(context.Background(), domain.State{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunner_Install(t *testing.T) {
	skipOnWindows(t)
	reg := registry.Default()
	r := NewRunner()
	r.Register("put", "echo", `{"item_inside": true}`)
	r.Install(reg)

	h, err := reg.Handler(HandlerName, map[string]any{"tool": "put"})
	require.NoError(t, err)
	update, err := h.Invoke(context.Background(), domain.State{})
	require.NoError(t, err)
	assert.Equal(t, true, update["item_inside"])

	_, err = reg.Handler(HandlerName, map[string]any{})
	assert.Error(t, err)
	_, err = reg.Handler(HandlerName, map[string]any{"tool": "missing"})
	assert.Error(t, err)
}

func TestLoadTools(t *testing.T) {
	dir := t.TempDir()

	tools, err := LoadTools(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, tools)

	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tools:
  - name: put
    command: ./put.sh
    args: [--fast]
    env: {MODE: test}
    timeout: 2s
`), 0o644))
	tools, err = LoadTools(path)
	require.NoError(t, err)
	require.Contains(t, tools, "put")
	assert.Equal(t, "./put.sh", tools["put"].Command)
	assert.Equal(t, []string{"--fast"}, tools["put"].Args)
	assert.Equal(t, "test", tools["put"].Environment["MODE"])

	jsonPath := filepath.Join(dir, "tools.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"tools": [{"name": "x", "command": "true", "timeout": "soon"}]}`), 0o644))
	_, err = LoadTools(jsonPath)
	assert.ErrorContains(t, err, "invalid timeout")
}
