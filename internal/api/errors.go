package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/seantiz/ragserve/internal/engine"
	"github.com/seantiz/ragserve/internal/store"
)

// statusForError maps a request failure to its HTTP status and client detail.
func statusForError(err error) (int, string) {
	var ee *engine.EngineError
	switch {
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusGatewayTimeout, "Request timed out"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Task not found"
	case errors.As(err, &ee):
		return http.StatusInternalServerError, ee.Error()
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
