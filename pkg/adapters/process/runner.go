package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/registry"
)

// HandlerName is the registry name of the exec handler.
const HandlerName = "exec"

// Runner executes allow-listed local commands as node handlers.
//
// The command receives the current state as a JSON object on stdin and
// handler args as PERGOLA_ARG_<NAME> environment variables. It answers with a
// JSON object on stdout, which becomes the node's state update. Empty output
// means no update. A non-zero exit fails the node with stderr attached.
type Runner struct {
	mu      sync.RWMutex
	tools   map[string]ToolConfig
	baseDir string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithTools populates the allow-list from a loaded tools file.
func WithTools(tools map[string]ToolConfig) RunnerOption {
	return func(r *Runner) {
		for name, tool := range tools {
			tool.Name = name
			r.tools[name] = tool
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// NewRunner creates a new process runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{tools: make(map[string]ToolConfig)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = ToolConfig{Name: name, Command: command, Args: args}
}

// Tools lists the registered tool names.
func (r *Runner) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Install registers the exec handler on reg. Graph nodes select a tool with
// `handler: exec` and `args: {tool: <name>, ...}`; the remaining args are
// passed to the process environment.
func (r *Runner) Install(reg *registry.Registry) {
	reg.RegisterHandler(HandlerName, func(args map[string]any) (graph.Handler, error) {
		name, _ := args["tool"].(string)
		if name == "" {
			return nil, fmt.Errorf("exec handler needs a tool argument")
		}
		extra := make(map[string]any, len(args))
		for k, v := range args {
			if k != "tool" {
				extra[k] = v
			}
		}
		return r.Handler(name, extra)
	})
}

// Handler returns a node handler running the named tool.
// Unknown tools fail at compile time, not when the node runs.
func (r *Runner) Handler(name string, args map[string]any) (graph.Handler, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("process tool not registered: %s", name)
	}
	env := make([]string, 0, len(args)+len(tool.Environment))
	for k, v := range tool.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range args {
		env = append(env, fmt.Sprintf("PERGOLA_ARG_%s=%s", strings.ToUpper(k), envValue(v)))
	}
	return graph.HandlerFunc(func(ctx context.Context, state domain.State) (domain.State, error) {
		return r.run(ctx, tool, env, state)
	}), nil
}

func (r *Runner) run(ctx context.Context, tool ToolConfig, env []string, state domain.State) (domain.State, error) {
	if tool.Timeout != "" {
		if d, err := time.ParseDuration(tool.Timeout); err == nil && d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	input, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state for %s: %w", tool.Name, err)
	}

	cmd := exec.CommandContext(ctx, tool.Command, tool.Args...)
	cmd.Dir = r.baseDir
	cmd.Env = append(cmd.Environ(), env...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tool %s: %w", tool.Name, ctx.Err())
		}
		return nil, fmt.Errorf("tool %s failed: %w: %s", tool.Name, err, strings.TrimSpace(stderr.String()))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}
	var update domain.State
	if err := json.Unmarshal(out, &update); err != nil {
		return nil, fmt.Errorf("tool %s must print a JSON object: %w", tool.Name, err)
	}
	return update, nil
}

func envValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}
