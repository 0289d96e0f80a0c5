package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/schema"
)

// Problem is the JSON error body.
type Problem struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// classify maps engine errors to a status code and a stable kind.
func classify(err error) (int, string) {
	var (
		compileErr *domain.CompileError
		routingErr *domain.RoutingError
		handlerErr *domain.HandlerError
		persistErr *domain.PersistenceError
		validErr   *schema.ValidationError
		aggErr     *schema.AggregateError
	)
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidRunID):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrRunExists), errors.Is(err, domain.ErrCheckpointConflict):
		return http.StatusConflict, "conflict"
	case errors.As(err, &compileErr):
		return http.StatusUnprocessableEntity, "compile"
	case errors.As(err, &routingErr):
		return http.StatusUnprocessableEntity, "routing"
	case errors.As(err, &handlerErr):
		return http.StatusUnprocessableEntity, "handler"
	case errors.Is(err, domain.ErrStepLimit):
		return http.StatusUnprocessableEntity, "step_limit"
	case errors.As(err, &validErr), errors.As(err, &aggErr):
		return http.StatusUnprocessableEntity, "validation"
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, "persistence"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		s.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "kind", kind, "error", err)
	} else {
		s.Logger.WarnContext(r.Context(), "request rejected", "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeProblem(w, status, kind, err.Error())
}

func writeProblem(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, Problem{Kind: kind, Error: msg})
}
