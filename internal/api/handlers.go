package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yash-kalathiya/food-spotz/pkg/search"
	"github.com/yash-kalathiya/food-spotz/pkg/storage"
)

const (
	serviceName    = "dish-finder-backend"
	defaultHistory = 10
	maxHistory     = 100
)

// Root describes the API.
func (h *Handlers) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Dish Finder API",
		"version": "1.0.0",
		"health":  "/api/v1/health",
	})
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   serviceName,
	})
}

// Ready pings every dependency.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Checks))
	for name, p := range h.Checks {
		if err := p.Ping(ctx); err != nil {
			h.Logger.Warn().Err(err).Str("check", name).Msg("Readiness check failed")
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"ready": status == http.StatusOK, "checks": checks})
}

// CreateSearch answers a search from cache or by scraping.
func (h *Handlers) CreateSearch(w http.ResponseWriter, r *http.Request) {
	q, ok := readJSON[search.Query](w, r)
	if !ok {
		return
	}

	resp, err := h.Search.Search(r.Context(), q)
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Logger.Error().Err(err).Msg("Search failed")
		writeError(w, http.StatusInternalServerError, "Search failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// StreamSearch answers a search as server-sent events.
func (h *Handlers) StreamSearch(w http.ResponseWriter, r *http.Request) {
	q, ok := readJSON[search.Query](w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	started := false
	send := func(ev search.StreamEvent) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	err := h.Search.SearchStream(r.Context(), q, send)
	if err == nil {
		return
	}
	if !started {
		if errors.Is(err, search.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Search failed: "+err.Error())
		return
	}
	h.Logger.Warn().Err(err).Msg("Stream search failed")
}

// GetSearch returns a stored search.
func (h *Handlers) GetSearch(w http.ResponseWriter, r *http.Request) {
	searchID := strings.TrimSpace(chi.URLParam(r, "searchID"))
	resp, err := h.Search.Get(r.Context(), searchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Search not found")
			return
		}
		h.Logger.Error().Err(err).Str("search_id", searchID).Msg("Get search failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListHistory returns recent searches.
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistory {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistory))
			return
		}
		limit = n
	}

	items, err := h.Search.History(r.Context(), limit)
	if err != nil {
		h.Logger.Error().Err(err).Msg("History failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, items)
}
