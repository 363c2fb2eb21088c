package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/trace"
)

// traceResponse is the JSON response for GET /v1/traces/{trace_id}.
type traceResponse struct {
	TraceID string                `json:"trace_id"`
	Entries []model.QueryLogEntry `json:"entries"`
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "trace_id")

	entries, err := s.store.GetQueryLog(r.Context(), id)
	if err != nil {
		trace.Logger(r.Context(), s.logger).Error("get query log", "lookup_trace_id", id, "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "failed to get trace")
		return
	}
	if len(entries) == 0 {
		s.writeError(w, r, http.StatusNotFound, "trace not found")
		return
	}

	s.writeJSON(w, http.StatusOK, traceResponse{TraceID: id, Entries: entries})
}
