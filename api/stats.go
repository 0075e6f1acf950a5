package api

import (
	"net/http"

	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/queue"
	"github.com/alpex29/infinitic/stream"
)

type statsResponse struct {
	Entities       map[entity.Kind]map[entity.Status]int `json:"entities"`
	DLQ            int64                                 `json:"dlq"`
	ActiveAttempts int                                   `json:"active_attempts"`
	Stream         stream.Stats                          `json:"stream"`
	Queues         []queue.Stats                         `json:"queues,omitempty"`
}

var runningStatuses = []entity.Status{
	entity.StatusRunningOK,
	entity.StatusRunningWarning,
	entity.StatusRunningError,
}

// handleStats counts live entities per hosted kind and status.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Entities: make(map[entity.Kind]map[entity.Status]int)}

	for _, kind := range s.eng.Kinds() {
		counts := make(map[entity.Status]int, len(runningStatuses))
		for _, status := range runningStatuses {
			states, err := s.eng.List(r.Context(), status, entity.ListOpts{Kind: kind})
			if err != nil {
				s.writeEngineError(w, "stats", err)
				return
			}
			counts[status] = len(states)
		}
		resp.Entities[kind] = counts
	}

	n, err := s.eng.DLQService().DLQStore().CountDLQ(r.Context())
	if err != nil {
		s.writeEngineError(w, "stats", err)
		return
	}
	resp.DLQ = n
	if pool := s.eng.Pool(); pool != nil {
		resp.ActiveAttempts = pool.ActiveCount()
	}

	resp.Stream = s.eng.Stream().Stats()
	if qm := s.eng.QueueManager(); qm != nil {
		resp.Queues = qm.Stats()
	}

	s.writeJSON(w, http.StatusOK, resp)
}
