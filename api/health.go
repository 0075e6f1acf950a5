package api

import (
	"log/slog"
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealthz reports whether the store is reachable.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Store().Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
