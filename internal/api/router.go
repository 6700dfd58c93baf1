// Package api exposes the search service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yash-kalathiya/food-spotz/pkg/metrics"
	"github.com/yash-kalathiya/food-spotz/pkg/search"
)

// SearchService is the behavior the handlers need.
type SearchService interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
	SearchStream(ctx context.Context, q search.Query, send func(search.StreamEvent) error) error
	Get(ctx context.Context, searchID string) (*search.Response, error)
	History(ctx context.Context, limit int) ([]search.HistoryItem, error)
}

// Pinger is a dependency checked by /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Search SearchService
	Checks map[string]Pinger
	Logger zerolog.Logger
}

// NewRouter mounts every route.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", h.Root)
	r.Get("/ready", h.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", h.CreateSearch)
		r.Post("/search/stream", h.StreamSearch)
		r.Get("/search/{searchID}", h.GetSearch)
		r.Get("/history", h.ListHistory)
		r.Get("/health", h.Health)
	})
	return r
}

func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}
