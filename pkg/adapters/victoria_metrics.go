package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// VictoriaMetricsAdapter fetches history from VictoriaMetrics via its
// Prometheus-compatible HTTP API. Rows and SeriesLabel behave exactly as for
// PrometheusAdapter.
type VictoriaMetricsAdapter struct {
	// ServerURL is the base URL to VictoriaMetrics, e.g. http://victoria-metrics:8428
	ServerURL string
	// Query is the MetricsQL/PromQL expression to evaluate.
	Query string
	// StepSeconds controls the resolution (defaults to 60s if <= 0).
	StepSeconds int
	// SeriesLabel keeps series apart, keyed by this label's value.
	SeriesLabel string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (v *VictoriaMetricsAdapter) Name() string { return "victoria-metrics" }

// Collect implements Adapter.
func (v *VictoriaMetricsAdapter) Collect(ctx context.Context, windowSeconds int) (*DataFrame, error) {
	if v.ServerURL == "" || v.Query == "" {
		return &DataFrame{}, errors.New("victoria metrics adapter: ServerURL and Query are required")
	}
	pr, err := queryRange(ctx, v.HTTPClient, v.ServerURL, v.Query, v.StepSeconds, windowSeconds)
	if err != nil {
		return &DataFrame{}, fmt.Errorf("victoria-metrics: %w", err)
	}
	return rangeFrame(pr.Data.Result, v.SeriesLabel)
}
