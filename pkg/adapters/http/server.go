package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/runner"
	"github.com/aretw0/pergola/pkg/schema"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a set of compiled graphs, one engine each, over JSON.
type Server struct {
	Engines  map[string]*pergola.Engine
	Streams  *StreamManager
	Logger   *slog.Logger
	Gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.Logger = logger
		}
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.Gatherer = g
		}
	}
}

// NewHandler creates the HTTP handler for engines, keyed by graph name.
func NewHandler(engines map[string]*pergola.Engine, opts ...Option) http.Handler {
	s := &Server{
		Engines:  engines,
		Streams:  NewStreamManager(),
		Logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s.Routes()
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))

	r.Get("/graphs", s.ListGraphs)
	r.Route("/graphs/{graph}", func(r chi.Router) {
		r.Get("/", s.GetGraph)
		r.Get("/runs", s.ListRuns)
		r.Post("/runs", s.StartRun)
		r.Route("/runs/{run}", func(r chi.Router) {
			r.Delete("/", s.DeleteRun)
			r.Post("/resume", s.ResumeRun)
			r.Get("/state", s.GetState)
			r.Patch("/state", s.PatchState)
			r.Get("/checkpoints", s.ListCheckpoints)
			r.Get("/checkpoints/{step}", s.GetCheckpoint)
			r.Get("/events", s.SubscribeEvents)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartRequest is the body of POST /graphs/{graph}/runs.
type StartRequest struct {
	RunID string       `json:"run_id,omitempty"`
	State domain.State `json:"state,omitempty"`
}

// ResumeRequest is the body of POST /graphs/{graph}/runs/{run}/resume.
type ResumeRequest struct {
	Patch domain.State `json:"patch,omitempty"`
}

// GraphInfo describes a served graph.
type GraphInfo struct {
	Name     string                 `json:"name"`
	Nodes    []string               `json:"nodes"`
	Topology domain.Topology        `json:"topology"`
	Policy   domain.InterruptPolicy `json:"interrupts"`
	Fields   domain.Fields          `json:"fields,omitempty"`
	Schema   schema.Schema          `json:"schema,omitempty"`
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "pergola-http",
		"version": strings.TrimSpace(pergola.Version),
	})
}

// ListGraphs handles GET /graphs.
func (s *Server) ListGraphs(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.Engines))
	for name := range s.Engines {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string][]string{"graphs": names})
}

// GetGraph handles GET /graphs/{graph}.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	plan := eng.Plan()
	writeJSON(w, http.StatusOK, GraphInfo{
		Name:     plan.Name(),
		Nodes:    plan.Nodes(),
		Topology: plan.Topology(),
		Policy:   plan.Policy(),
		Fields:   plan.Fields(),
		Schema:   plan.Schema(),
	})
}

// ListRuns handles GET /graphs/{graph}/runs.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	runs, err := eng.Runs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"runs": runs})
}

// StartRun handles POST /graphs/{graph}/runs.
func (s *Server) StartRun(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	var body StartRequest
	if !decodeBody(w, r, &body) {
		return
	}
	initial, ok := sanitize(w, body.State)
	if !ok {
		return
	}

	res, err := eng.Start(r.Context(), body.RunID, initial)
	s.publish(r, res)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Logger.InfoContext(r.Context(), "run started", "graph", chi.URLParam(r, "graph"), "run_id", res.RunID, "status", res.Status)
	writeJSON(w, http.StatusCreated, res)
}

// ResumeRun handles POST /graphs/{graph}/runs/{run}/resume.
func (s *Server) ResumeRun(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	var body ResumeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	patch, ok := sanitize(w, body.Patch)
	if !ok {
		return
	}

	res, err := eng.Resume(r.Context(), chi.URLParam(r, "run"), patch)
	s.publish(r, res)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetState handles GET /graphs/{graph}/runs/{run}/state.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	snap, err := eng.State(r.Context(), chi.URLParam(r, "run"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PatchState handles PATCH /graphs/{graph}/runs/{run}/state.
// The body is a partial state merged with the graph's field rules.
func (s *Server) PatchState(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	var body domain.State
	if !decodeBody(w, r, &body) {
		return
	}
	patch, ok := sanitize(w, body)
	if !ok {
		return
	}

	runID := chi.URLParam(r, "run")
	diff, err := eng.PatchState(r.Context(), runID, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !diff.IsEmpty() {
		if data, err := json.Marshal(diff); err == nil {
			s.Streams.Broadcast(streamKey(r), "patch", string(data))
		}
	}
	writeJSON(w, http.StatusOK, diff)
}

// ListCheckpoints handles GET /graphs/{graph}/runs/{run}/checkpoints.
func (s *Server) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	history, err := eng.History(r.Context(), chi.URLParam(r, "run"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": history})
}

// GetCheckpoint handles GET /graphs/{graph}/runs/{run}/checkpoints/{step}.
func (s *Server) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil || step < 0 {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "step must be a non-negative integer")
		return
	}
	snap, err := eng.Checkpoint(r.Context(), chi.URLParam(r, "run"), step)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DeleteRun handles DELETE /graphs/{graph}/runs/{run}.
func (s *Server) DeleteRun(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	if err := eng.Delete(r.Context(), chi.URLParam(r, "run")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) engine(w http.ResponseWriter, r *http.Request) (*pergola.Engine, bool) {
	name := chi.URLParam(r, "graph")
	eng, ok := s.Engines[name]
	if !ok {
		writeProblem(w, http.StatusNotFound, "not_found", "graph not found: "+name)
		return nil, false
	}
	return eng, true
}

// publish forwards every step of a drive to the run's event subscribers.
func (s *Server) publish(r *http.Request, res *pergola.Result) {
	if res == nil {
		return
	}
	key := chi.URLParam(r, "graph") + "/" + res.RunID
	for _, ev := range res.Events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		s.Streams.Broadcast(key, string(ev.Kind), string(data))
	}
}

func streamKey(r *http.Request) string {
	return chi.URLParam(r, "graph") + "/" + chi.URLParam(r, "run")
}

// decodeBody reads an optional JSON body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeProblem(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
	return false
}

// sanitize strips control characters from client-supplied state and rejects
// oversized or malformed strings.
func sanitize(w http.ResponseWriter, state domain.State) (domain.State, bool) {
	clean, err := runner.SanitizePatch(state)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "invalid state: "+err.Error())
		return nil, false
	}
	return clean, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}
