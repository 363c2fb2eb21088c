package api

import (
	"net/http"

	"github.com/seantiz/ragserve/internal/cache"
	"github.com/seantiz/ragserve/internal/trace"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Jobs  jobStats     `json:"jobs"`
	Cache *cache.Stats `json:"cache,omitempty"`
}

type jobStats struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context(), s.logger)

	stats, err := s.store.GetJobStats(r.Context())
	if err != nil {
		log.Error("get job stats", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "failed to get stats")
		return
	}

	resp := statsResponse{Jobs: jobStats{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		AvgDurationMS: stats.AvgDurationMS,
	}}

	// A failing cache leaves the field out rather than failing the endpoint.
	if s.cache != nil {
		cs, err := s.cache.Stats(r.Context())
		if err != nil {
			log.Warn("get cache stats", "error", err)
		} else {
			resp.Cache = &cs
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
