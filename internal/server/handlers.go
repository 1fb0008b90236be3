package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/castkeep/castkeep/internal/storage"
)

// handlers binds HTTP handlers to the App's dependencies.
type handlers struct {
	app *App
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.app.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	// Usage never raises; exercising it proves the backend answers, and
	// reporting the numbers makes readiness failures easier to debug.
	usage := h.app.Store.Usage(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"storage": usage,
	})
}

// refreshGauges is called at scrape time so the gauges track the registries
// rather than lagging behind event callbacks.
func (h *handlers) refreshGauges() {
	if h.app.Registry != nil {
		h.app.Metrics.SetActiveSessions(h.app.Registry.ActiveCount())
	}
	if h.app.Orchestrator != nil {
		h.app.Metrics.SetActiveEgresses(h.app.Orchestrator.ActiveCount())
	}
}

// publishEvent is the payload the media server sends on publish lifecycle
// hooks.
type publishEvent struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
}

func (h *handlers) handlePublishStart(w http.ResponseWriter, r *http.Request) {
	var ev publishEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.app.Pipeline.HandlePublishStart(ev.SessionID, ev.Path); err != nil {
		// The media server treats a non-2xx response as a refusal and drops
		// the publisher.
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handlePublishEnd(w http.ResponseWriter, r *http.Request) {
	var ev publishEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The broadcast is already over; the response status is informational and
	// the result carries any storage failure detail.
	res := h.app.Pipeline.HandlePublishEnd(r.Context(), ev.SessionID, ev.Path)
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	streamKey := r.URL.Query().Get("stream_key")
	recs := h.app.Store.List(r.Context(), streamKey)
	writeJSON(w, http.StatusOK, map[string]any{
		"recordings": recs,
		"count":      len(recs),
	})
}

func (h *handlers) handleRecordingURL(w http.ResponseWriter, r *http.Request) {
	fileName := chi.URLParam(r, "fileName")

	expiry := time.Duration(0)
	if v := r.URL.Query().Get("expiry_seconds"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			writeError(w, http.StatusBadRequest, "expiry_seconds must be a positive integer")
			return
		}
		expiry = time.Duration(seconds) * time.Second
	}

	url, err := h.app.Store.ResolveURL(r.Context(), fileName, expiry)
	if err != nil {
		if errors.Is(err, storage.ErrRecordingNotFound) {
			writeError(w, http.StatusNotFound, "recording not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to resolve URL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *handlers) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	fileName := chi.URLParam(r, "fileName")
	if !h.app.Store.Delete(r.Context(), fileName) {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Store.Usage(r.Context()))
}

func (h *handlers) handleStorageCleanup(w http.ResponseWriter, r *http.Request) {
	cleanable, ok := h.app.Store.(storage.Cleanable)
	if !ok {
		writeError(w, http.StatusNotImplemented, "storage backend does not support cleanup")
		return
	}

	var req struct {
		MaxAgeHours int `json:"max_age_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaxAgeHours <= 0 {
		writeError(w, http.StatusBadRequest, "max_age_hours must be positive")
		return
	}

	deleted := cleanable.CleanupOldRecordings(req.MaxAgeHours)
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}
