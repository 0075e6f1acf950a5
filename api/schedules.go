package api

import (
	"net/http"

	"github.com/alpex29/infinitic/cron"
)

type schedulesResponse struct {
	Schedules []cron.Entry `json:"schedules"`
}

// handleListSchedules lists cron entries with their last and next runs.
func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, schedulesResponse{Schedules: s.eng.Scheduler().Entries()})
}
