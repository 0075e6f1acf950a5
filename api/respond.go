package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alpex29/infinitic"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodySize      = 1 << 20 // 1 MB
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeEngineError maps sentinel errors to HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, infinitic.ErrStateNotFound), errors.Is(err, infinitic.ErrDLQNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, infinitic.ErrInvalidMessage),
		errors.Is(err, infinitic.ErrInvalidTaskName),
		errors.Is(err, infinitic.ErrUnknownKind):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op, slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeBody decodes an optional JSON body. An empty body leaves v as is.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// pagination parses limit and offset query parameters.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
		limit = min(limit, maxListLimit)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", v)
		}
	}
	return limit, offset, nil
}
