package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/router"
	"github.com/seantiz/ragserve/internal/trace"
)

// statusResponse is the JSON response for GET /status/{task_id}. Pending and
// running jobs both report "processing".
type statusResponse struct {
	Status string        `json:"status"`
	Result *model.Answer `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func jobStatus(j *model.Job) statusResponse {
	switch j.Status {
	case model.StatusCompleted:
		return statusResponse{Status: model.StatusCompleted, Result: j.Result}
	case model.StatusFailed:
		return statusResponse{Status: model.StatusFailed, Error: j.Error}
	default:
		return statusResponse{Status: router.StatusProcessing}
	}
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")

	j, err := s.router.Poll(r.Context(), id)
	if err != nil {
		status, detail := statusForError(err)
		if status >= http.StatusInternalServerError {
			trace.Logger(r.Context(), s.logger).Error("get job", "task_id", id, "error", err)
		}
		s.writeError(w, r, status, detail)
		return
	}

	s.writeJSON(w, http.StatusOK, jobStatus(j))
}
