package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alpex29/infinitic/backoff"
	"github.com/alpex29/infinitic/client"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

type dispatchRequest struct {
	Kind      string            `json:"kind"`
	Name      string            `json:"name"`
	Input     json.RawMessage   `json:"input,omitempty"`
	ID        string            `json:"id,omitempty"`
	ParentID  string            `json:"parent_id,omitempty"`
	TimeoutMS int64             `json:"timeout_ms,omitempty"`
	Retry     *retryPolicy      `json:"retry,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

type retryPolicy struct {
	Kind       string `json:"kind"`
	MaxRetries uint64 `json:"max_retries"`
	InitialMS  int64  `json:"initial_ms"`
	MaxMS      int64  `json:"max_ms"`
}

func (p retryPolicy) policy() backoff.Policy {
	return backoff.Policy{
		Kind:       backoff.Kind(p.Kind),
		MaxRetries: p.MaxRetries,
		Initial:    time.Duration(p.InitialMS) * time.Millisecond,
		Max:        time.Duration(p.MaxMS) * time.Millisecond,
	}
}

type retryRequest struct {
	Name  *string         `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type cancelRequest struct {
	Output json.RawMessage `json:"output,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

// jsonData wraps a raw JSON value. An absent value is null data.
func jsonData(raw json.RawMessage) entity.Data {
	if len(raw) == 0 {
		return entity.Data{}
	}
	return entity.Data{Type: entity.DataJSON, Bytes: raw}
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	kind, err := entity.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opts []client.DispatchOption
	if req.ID != "" {
		entityID, parseErr := id.ParseEntityID(req.ID)
		if parseErr != nil {
			s.writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		opts = append(opts, client.WithID(entityID))
	}
	if req.ParentID != "" {
		parentID, parseErr := id.ParseEntityID(req.ParentID)
		if parseErr != nil {
			s.writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		opts = append(opts, client.WithParent(parentID))
	}
	if req.TimeoutMS > 0 {
		opts = append(opts, client.WithTimeout(time.Duration(req.TimeoutMS)*time.Millisecond))
	}
	if req.Retry != nil {
		opts = append(opts, client.WithRetry(req.Retry.policy()))
	}
	for k, v := range req.Meta {
		opts = append(opts, client.WithMeta(k, []byte(v)))
	}

	entityID, err := s.eng.Dispatch(r.Context(), kind, req.Name, jsonData(req.Input), opts...)
	if err != nil {
		s.writeEngineError(w, "dispatch", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, idResponse{ID: entityID.String()})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := entity.ParseStatus(q.Get("status"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := entity.ListOpts{Limit: limit, Offset: offset}
	if v := q.Get("kind"); v != "" {
		kind, kindErr := entity.ParseKind(v)
		if kindErr != nil {
			s.writeError(w, http.StatusBadRequest, kindErr.Error())
			return
		}
		opts.Kind = kind
	}

	states, err := s.eng.List(r.Context(), status, opts)
	if err != nil {
		s.writeEngineError(w, "list entities", err)
		return
	}
	if states == nil {
		states = []*entity.State{}
	}
	s.writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entityID, ok := s.entityID(w, r)
	if !ok {
		return
	}
	state, err := s.eng.Get(r.Context(), entityID)
	if err != nil {
		s.writeEngineError(w, "get entity", err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRetryEntity(w http.ResponseWriter, r *http.Request) {
	entityID, ok := s.entityID(w, r)
	if !ok {
		return
	}
	var req retryRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	overrides := client.RetryOverrides{Name: req.Name}
	if len(req.Input) > 0 {
		input := jsonData(req.Input)
		overrides.Input = &input
	}
	if err := s.eng.Retry(r.Context(), entityID, overrides); err != nil {
		s.writeEngineError(w, "retry entity", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, idResponse{ID: entityID.String()})
}

func (s *Server) handleCancelEntity(w http.ResponseWriter, r *http.Request) {
	entityID, ok := s.entityID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.eng.Cancel(r.Context(), entityID, jsonData(req.Output)); err != nil {
		s.writeEngineError(w, "cancel entity", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, idResponse{ID: entityID.String()})
}

func (s *Server) entityID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	entityID, err := id.ParseEntityID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return id.Nil, false
	}
	return entityID, true
}
