package api

import (
	"net/http"

	"github.com/seantiz/ragserve/internal/backend"
)

// backendsResponse is the JSON response for GET /v1/backends.
type backendsResponse struct {
	Available []string     `json:"available"`
	Active    backend.Info `json:"active"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	available := []string{}
	if s.registry != nil {
		available = s.registry.List()
	}
	s.writeJSON(w, http.StatusOK, backendsResponse{Available: available, Active: s.generator})
}
