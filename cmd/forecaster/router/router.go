// Package router configures the forecaster's HTTP API.
//
// Routes:
//   - GET  /forecast/current?name=<name>  latest stored snapshot
//   - POST /v1/forecast                   forecast the posted table
//   - GET  /healthz                       health check; 503 when a remote store is down
//   - GET  /metrics                       Prometheus metrics
//
// Snapshots older than the stale threshold carry an X-Chronocast-Stale
// header. Errors are JSON bodies of the form {"error": "..."}.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/chronocast/cmd/forecaster/models"
	"github.com/HatiCode/chronocast/pkg/adapters"
	"github.com/HatiCode/chronocast/pkg/httpx"
	"github.com/HatiCode/chronocast/pkg/schema"
	"github.com/HatiCode/chronocast/pkg/storage"
)

// StaleHeader marks snapshots older than the stale threshold.
const StaleHeader = "X-Chronocast-Stale"

// SetupRoutes configures HTTP endpoints for the forecaster.
func SetupRoutes(store storage.Store, predictor models.Predictor, staleAfter time.Duration, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", healthHandler(store))
	mux.HandleFunc("GET /forecast/current", handleGetSnapshot(store, staleAfter, logger))
	mux.HandleFunc("POST /v1/forecast", handleForecast(store, predictor, logger))
	mux.Handle("GET /metrics", promhttp.Handler())

	return httpx.RecoveryMiddleware(logger)(httpx.LoggingMiddleware(logger)(mux))
}

// pinger is implemented by stores backed by a remote service.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler reports unhealthy when a remote store stops answering.
func healthHandler(store storage.Store) http.Handler {
	p, ok := store.(pinger)
	if !ok {
		return httpx.HealthHandler()
	}
	return httpx.HealthHandlerWithCheck(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store unavailable: %w", err)
		}
		return nil
	})
}

// handleGetSnapshot returns a handler for GET /forecast/current?name=<name>.
func handleGetSnapshot(store storage.Store, staleAfter time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "name parameter required")
			return
		}
		if !storage.ValidName(name) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid name format")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot, found, err := store.GetLatest(ctx, name)
		if err != nil {
			logger.Error("failed to get snapshot", "name", name, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("snapshot not found for %q", name))
			return
		}

		if time.Since(snapshot.GeneratedAt) > staleAfter {
			w.Header().Set(StaleHeader, "true")
		}
		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// ForecastRequest is the body of POST /v1/forecast. Rows, Past and Future
// are tables as arrays of objects keyed by column name. A non-empty Name
// also stores the result as that snapshot.
type ForecastRequest struct {
	Name   string           `json:"name,omitempty"`
	Rows   []map[string]any `json:"rows"`
	Past   []map[string]any `json:"past,omitempty"`
	Future []map[string]any `json:"future,omitempty"`
}

func handleForecast(store storage.Store, predictor models.Predictor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ForecastRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		if len(req.Rows) == 0 {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "rows must not be empty")
			return
		}
		if req.Name != "" && !storage.ValidName(req.Name) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid name format")
			return
		}

		res, err := predictor.Predict(r.Context(), toFrame(req.Rows), toFrame(req.Past), toFrame(req.Future))
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				logger.Error("forecast failed", "error", err)
				httpx.WriteErrorMessage(w, status, "forecast failed")
				return
			}
			httpx.WriteError(w, status, err)
			return
		}

		info := predictor.Info()
		snapshot := storage.NewSnapshot(req.Name, info.Engine, info.Horizon, info.Frequency, res.Frame, res.Warnings, time.Now())
		if req.Name != "" {
			if err := store.Put(r.Context(), snapshot); err != nil {
				logger.Error("failed to store snapshot", "name", req.Name, "error", err)
				httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
				return
			}
		}
		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// statusFor maps forecast errors to HTTP status codes: configuration errors
// are the client's request, input errors are unprocessable tables.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrColumnNotFound),
		errors.Is(err, schema.ErrDuplicateTimestamp),
		errors.Is(err, schema.ErrInvalidTimestamp),
		errors.Is(err, schema.ErrInvalidValue):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// toFrame builds a table from JSON objects; columns are sorted by name. It
// returns nil for an absent table.
func toFrame(objects []map[string]any) *adapters.DataFrame {
	if objects == nil {
		return nil
	}
	seen := map[string]bool{}
	var columns []string
	for _, obj := range objects {
		for name := range obj {
			if !seen[name] {
				seen[name] = true
				columns = append(columns, name)
			}
		}
	}
	slices.Sort(columns)

	df := adapters.NewDataFrame(columns...)
	df.Rows = make([]adapters.Row, 0, len(objects))
	for _, obj := range objects {
		df.Rows = append(df.Rows, adapters.Row(obj))
	}
	return df
}
