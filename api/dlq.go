package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/id"
)

// defaultPurgeAge is the age past which a purge without older_than
// removes entries.
const defaultPurgeAge = 30 * 24 * time.Hour

type countResponse struct {
	Count int64 `json:"count"`
}

type purgeResponse struct {
	Purged int64 `json:"purged"`
}

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.eng.DLQService().DLQStore().ListDLQ(r.Context(), dlq.ListOpts{
		Limit:  limit,
		Offset: offset,
		Topic:  r.URL.Query().Get("topic"),
	})
	if err != nil {
		s.writeEngineError(w, "list dlq", err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCountDLQ(w http.ResponseWriter, r *http.Request) {
	n, err := s.eng.DLQService().DLQStore().CountDLQ(r.Context())
	if err != nil {
		s.writeEngineError(w, "count dlq", err)
		return
	}
	s.writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (s *Server) handleGetDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, ok := s.dlqID(w, r)
	if !ok {
		return
	}
	entry, err := s.eng.DLQService().DLQStore().GetDLQ(r.Context(), entryID)
	if err != nil {
		s.writeEngineError(w, "get dlq entry", err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleReplayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, ok := s.dlqID(w, r)
	if !ok {
		return
	}
	entry, err := s.eng.DLQService().Replay(r.Context(), entryID)
	if err != nil {
		s.writeEngineError(w, "replay dlq entry", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, entry)
}

func (s *Server) handlePurgeDLQ(w http.ResponseWriter, r *http.Request) {
	age := defaultPurgeAge
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid older_than "+v)
			return
		}
		age = d
	}
	n, err := s.eng.DLQService().DLQStore().PurgeDLQ(r.Context(), time.Now().UTC().Add(-age))
	if err != nil {
		s.writeEngineError(w, "purge dlq", err)
		return
	}
	s.writeJSON(w, http.StatusOK, purgeResponse{Purged: n})
}

func (s *Server) dlqID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return id.Nil, false
	}
	return entryID, true
}
