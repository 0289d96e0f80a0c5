package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/runner"
	"github.com/aretw0/pergola/pkg/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
)

// Server exposes one engine's runs as MCP tools.
type Server struct {
	engine    *pergola.Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(engine *pergola.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:    engine,
		logger:    logger,
		mcpServer: server.NewMCPServer("pergola-mcp", strings.TrimSpace(pergola.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on port until ctx is canceled.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_run",
		mcp.WithDescription("Start a new run of the graph and drive it until it completes or suspends."),
		mcp.WithString("run_id", mcp.Description("Run identifier (optional, generated when omitted)")),
		mcp.WithObject("state", mcp.Description("Initial state (optional)")),
	), s.handleStartRun)

	s.mcpServer.AddTool(mcp.NewTool("resume_run",
		mcp.WithDescription("Resume a suspended run, optionally merging a patch into its state first."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithObject("patch", mcp.Description("Partial state merged before resuming (optional)")),
	), s.handleResumeRun)

	s.mcpServer.AddTool(mcp.NewTool("get_state",
		mcp.WithDescription("Get the latest checkpoint of a run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
	), s.handleGetState)

	s.mcpServer.AddTool(mcp.NewTool("patch_state",
		mcp.WithDescription("Merge a partial state into the latest checkpoint without advancing the run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithObject("patch", mcp.Required(), mcp.Description("Partial state")),
	), s.handlePatchState)

	s.mcpServer.AddTool(mcp.NewTool("list_checkpoints",
		mcp.WithDescription("List every checkpoint of a run in step order."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
	), s.handleListCheckpoints)

	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get the graph topology, interrupt policy, merge rules and field schema."),
	), s.handleGetGraph)
}

// graphView is the get_graph payload.
type graphView struct {
	domain.Topology
	Fields domain.Fields `json:"fields,omitempty"`
	Schema schema.Schema `json:"schema,omitempty"`
}

func (s *Server) handleGetGraph(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	plan := s.engine.Plan()
	return jsonResult(graphView{Topology: plan.Topology(), Fields: plan.Fields(), Schema: plan.Schema()})
}

func (s *Server) handleStartRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := stateArg(request, "state")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.engine.Start(ctx, request.GetString("run_id", ""), state)
	if err != nil {
		return toolError("start", err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleResumeRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	patch, err := stateArg(request, "patch")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.engine.Resume(ctx, runID, patch)
	if err != nil {
		return toolError("resume", err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleGetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := s.engine.State(ctx, runID)
	if err != nil {
		return toolError("get state", err), nil
	}
	return jsonResult(snap)
}

func (s *Server) handlePatchState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	patch, err := stateArg(request, "patch")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(patch) == 0 {
		return mcp.NewToolResultError("patch is required"), nil
	}
	diff, err := s.engine.PatchState(ctx, runID, patch)
	if err != nil {
		return toolError("patch state", err), nil
	}
	return jsonResult(diff)
}

func (s *Server) handleListCheckpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	history, err := s.engine.History(ctx, runID)
	if err != nil {
		return toolError("list checkpoints", err), nil
	}
	return jsonResult(history)
}

// stateArg reads an object argument. Clients that cannot send objects may
// send a JSON string instead.
func stateArg(request mcp.CallToolRequest, key string) (domain.State, error) {
	raw, ok := request.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}
	var state domain.State
	switch v := raw.(type) {
	case map[string]any:
		state = v
	case string:
		clean, err := runner.SanitizeInput(v)
		if err != nil {
			return nil, fmt.Errorf("%s rejected: %w", key, err)
		}
		if clean == "" {
			return nil, nil
		}
		if err := json.Unmarshal([]byte(clean), &state); err != nil {
			return nil, fmt.Errorf("%s must be a JSON object: %w", key, err)
		}
	default:
		return nil, fmt.Errorf("%s must be an object, got %T", key, raw)
	}
	clean, err := runner.SanitizePatch(state)
	if err != nil {
		return nil, fmt.Errorf("%s rejected: %w", key, err)
	}
	return clean, nil
}

func toolError(op string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) registerResources() {
	uri := "pergola://graph/" + s.engine.Plan().Name()
	s.mcpServer.AddResource(mcp.NewResource(uri, "Graph topology",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.engine.Plan().Topology())
		if err != nil {
			return nil, fmt.Errorf("failed to encode topology: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
