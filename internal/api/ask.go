package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/trace"
)

// askRequest is the JSON body for POST /ask.
type askRequest struct {
	Text    string `json:"text"`
	Sources bool   `json:"sources"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, r, http.StatusBadRequest, "text is required")
		return
	}

	resp, err := s.router.Handle(r.Context(), model.Question{Text: req.Text, WantSources: req.Sources})
	if err != nil {
		status, detail := statusForError(err)
		trace.Logger(r.Context(), s.logger).Error("ask failed", "status", status, "error", err)
		s.writeError(w, r, status, detail)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}
