// Package api serves the authenticated device-management REST API.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"notepush/internal/metrics"
	"notepush/internal/model"
	"notepush/internal/nip98"
	"notepush/internal/storage"
)

// Server exposes device registration and preference management.
// Every /user-info route requires a valid Nostr auth header whose
// pubkey matches the pubkey in the URL.
type Server struct {
	log     *slog.Logger
	store   storage.Storage
	baseURL string
}

// NewServer builds the API server. baseURL must match the public URL
// clients sign their auth events against.
func NewServer(log *slog.Logger, store storage.Storage, baseURL string) *Server {
	return &Server{log: log, store: store, baseURL: baseURL}
}

// Router returns the chi handler for the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/user-info/{pubkey}/{deviceToken}", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Put("/", s.handleRegister)
		r.Delete("/", s.handleRemove)
		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handleSetPreferences)
	})

	return r
}

// requireAuth verifies the Nostr auth event and checks that its pubkey
// owns the resource being touched.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "unreadable request body", err)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		pubkey, err := nip98.Verify(r, s.baseURL, body)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "authorization failed", err)
			return
		}
		if pubkey != chi.URLParam(r, "pubkey") {
			s.writeError(w, http.StatusForbidden, "authorized pubkey does not own this resource", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	pubkey := chi.URLParam(r, "pubkey")
	token := chi.URLParam(r, "deviceToken")
	if err := s.store.RegisterDevice(r.Context(), pubkey, token); err != nil {
		s.writeError(w, http.StatusInternalServerError, "registering device failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	pubkey := chi.URLParam(r, "pubkey")
	token := chi.URLParam(r, "deviceToken")
	if err := s.store.RemoveDevice(r.Context(), pubkey, token); err != nil {
		s.writeError(w, http.StatusInternalServerError, "removing device failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	pubkey := chi.URLParam(r, "pubkey")
	token := chi.URLParam(r, "deviceToken")
	settings, err := s.store.GetSettings(r.Context(), pubkey, token)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "device not registered", nil)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "loading preferences failed", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	pubkey := chi.URLParam(r, "pubkey")
	token := chi.URLParam(r, "deviceToken")

	var settings model.NotificationSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid preferences body", err)
		return
	}

	err := s.store.SaveSettings(r.Context(), pubkey, token, settings)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "device not registered", nil)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "saving preferences failed", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// writeError answers with a JSON error carrying a case id that is also
// logged, so a client report can be matched to the server log line.
func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	caseID := uuid.NewString()
	if err != nil {
		s.log.Error(message, "case_id", caseID, "status", status, "error", err)
	} else {
		s.log.Warn(message, "case_id", caseID, "status", status)
	}
	writeJSON(w, status, map[string]string{
		"error":   message,
		"case_id": caseID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
