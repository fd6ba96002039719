// Package api serves the report pipeline over HTTP, mainly for checking
// reports without going through Telegram.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"rsi-reportbot/internal/logger"
	"rsi-reportbot/internal/model"
	"rsi-reportbot/internal/report"
)

// Reporter builds reports.
type Reporter interface {
	Build(ctx context.Context, res model.Resolution, limit int) (model.Report, error)
	Thresholds() report.Thresholds
}

// Deps wires the router.
type Deps struct {
	Reports      Reporter
	DefaultLimit int
	// MaxConcurrent caps report builds running through the API at once.
	MaxConcurrent int64
	Logger        *slog.Logger
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(d Deps) *http.ServeMux {
	if d.DefaultLimit <= 0 {
		d.DefaultLimit = report.DefaultLimit
	}
	if d.MaxConcurrent <= 0 {
		d.MaxConcurrent = 2
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	sem := semaphore.NewWeighted(d.MaxConcurrent)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// GET /api/v1/report?tf=4h&limit=20[&format=json]
	mux.HandleFunc("/api/v1/report", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		q := r.URL.Query()
		res, ok := model.ParseResolution(q.Get("tf"))
		if !ok {
			writeError(w, http.StatusBadRequest, "tf must be one of 1h, 4h, 1d")
			return
		}
		limit := d.DefaultLimit
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		if !sem.TryAcquire(1) {
			writeError(w, http.StatusTooManyRequests, "too many reports in progress")
			return
		}
		defer sem.Release(1)

		ctx := logger.WithTraceID(r.Context(), "api-"+uuid.NewString())
		rep, err := d.Reports.Build(ctx, res, limit)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, model.ErrCatalogUnavailable):
				status = http.StatusServiceUnavailable
			case errors.Is(err, context.Canceled):
				// Client went away.
				return
			}
			d.Logger.WarnContext(ctx, "api report failed", append(logger.LogWithTrace(ctx), "error", err)...)
			writeError(w, status, err.Error())
			return
		}

		w.Header().Set("X-Trace-Id", logger.TraceID(ctx))
		if q.Get("format") == "json" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(rep)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(report.Render(rep, d.Reports.Thresholds())))
	})

	return mux
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
