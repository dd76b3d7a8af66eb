package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/pumpdrive/internal/analytics"
	"github.com/kalambet/pumpdrive/internal/catalog"
	"github.com/kalambet/pumpdrive/internal/profile"
	"github.com/kalambet/pumpdrive/internal/queue"
	"github.com/kalambet/pumpdrive/internal/recommender"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Recommender is the service behind the caller-facing surfaces.
type Recommender interface {
	Recommend(ctx context.Context, p profile.Profile) (recommender.Outcome, error)
	Prune(ctx context.Context, keep int) (int, error)
	CacheSize(ctx context.Context) (int, error)
	Catalog() *catalog.Catalog
}

// StatsSource summarizes served requests over a window.
type StatsSource interface {
	Stats(ctx context.Context, window time.Duration) (analytics.Stats, error)
}

// QueueStats reports generation queue counters.
type QueueStats interface {
	Stats() queue.Stats
}

// Deps wires the HTTP handler and MCP server. Queue may be nil when the
// rules strategy is in use.
type Deps struct {
	Recommender   Recommender
	Stats         StatsSource
	Queue         QueueStats
	Token         string
	RateLimit     int // requests per minute per client IP; 0 disables
	DefaultWindow time.Duration
	KeepCount     int
}

// StatsResponse is returned by GET /v1/stats and the cache_stats tool.
type StatsResponse struct {
	analytics.Stats
	CacheEntries int          `json:"cache_entries"`
	Queue        *queue.Stats `json:"queue,omitempty"`
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	if deps.DefaultWindow <= 0 {
		deps.DefaultWindow = 24 * time.Hour
	}
	if deps.KeepCount <= 0 {
		deps.KeepCount = recommender.DefaultKeepCount
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		if deps.RateLimit > 0 {
			r.Use(httprate.Limit(deps.RateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many requests, slow down")
				}),
			))
		}
		r.Get("/catalog", handleCatalog(deps))
		r.Post("/recommendations", handleRecommend(deps))
		r.Get("/stats", handleStats(deps))
		r.Post("/cache/prune", handlePrune(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCatalog(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"candidates": deps.Recommender.Catalog().Candidates(),
		})
	}
}

func handleRecommend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req recommendRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		p, err := req.toProfile()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		out, err := deps.Recommender.Recommend(r.Context(), p)
		if err != nil {
			status, errType := recommendErrorStatus(err)
			slog.Warn("recommendation failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
			httpError(w, status, errType, "recommendation failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func recommendErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, recommender.ErrUnavailable), errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := deps.DefaultWindow
		if v := r.URL.Query().Get("window"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid window %q", v)
				return
			}
			window = d
		}

		resp, err := collectStats(r.Context(), deps, window)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "service_unavailable", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func collectStats(ctx context.Context, deps Deps, window time.Duration) (StatsResponse, error) {
	st, err := deps.Stats.Stats(ctx, window)
	if err != nil {
		return StatsResponse{}, fmt.Errorf("reading analytics: %w", err)
	}
	resp := StatsResponse{Stats: st}
	if n, err := deps.Recommender.CacheSize(ctx); err == nil {
		resp.CacheEntries = n
	} else {
		slog.Warn("counting cache entries failed", "error", err)
	}
	if deps.Queue != nil {
		qs := deps.Queue.Stats()
		resp.Queue = &qs
	}
	return resp, nil
}

func handlePrune(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keep := deps.KeepCount
		if v := r.URL.Query().Get("keep"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "keep must be a non-negative integer")
				return
			}
			keep = n
		}

		deleted, err := deps.Recommender.Prune(r.Context(), keep)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "service_unavailable", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted, "keep": keep})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
