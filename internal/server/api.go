package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/franckalain/foodwise/internal/errors"
)

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, errors.NewInvalidRequest("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	scans, err := s.scans.ListScans(r.Context(), userID, limit)
	if err != nil {
		writeError(w, errors.NewPersistence(err))
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.scans.DeleteScan(r.Context(), vars["userID"], vars["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.assistant.Conversations(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.assistant.DeleteConversation(r.Context(), vars["userID"], vars["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Error writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	message := err.Error()
	if pErr, ok := errors.As(err); ok {
		message = pErr.Message
	}
	writeJSON(w, statusFor(code), map[string]any{"code": code, "message": message})
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrInvalidRequest:
		return http.StatusBadRequest
	case errors.ErrInFlight:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		slog.Debug("Request", "method", r.Method, "path", r.URL.Path, "status", wrapper.statusCode, "duration", time.Since(start))
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
