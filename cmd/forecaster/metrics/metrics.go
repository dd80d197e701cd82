// Package metrics provides Prometheus instrumentation for the forecaster.
//
// Metrics exposed:
//   - chronocast_adapter_collect_seconds: history collection duration
//   - chronocast_predict_seconds: forecast duration, model load included
//   - chronocast_model_load_seconds: model load duration by model kind
//   - chronocast_forecast_age_seconds: age of the stored forecast
//   - chronocast_forecast_points: rows in the stored forecast
//   - chronocast_warnings_total: non-fatal forecast warnings
//   - chronocast_errors_total: errors by component and reason
//
// All metrics carry the forecast name as a constant label.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the forecaster.
type Metrics struct {
	AdapterCollectSeconds prometheus.Histogram
	PredictSeconds        prometheus.Histogram
	ModelLoadSeconds      *prometheus.HistogramVec
	ForecastAgeSeconds    prometheus.Gauge
	ForecastPoints        prometheus.Gauge
	WarningsTotal         prometheus.Counter
	ErrorsTotal           *prometheus.CounterVec
}

// New creates the metrics and registers them with reg. A nil reg registers
// with prometheus.DefaultRegisterer.
func New(name string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"name": name}

	return &Metrics{
		AdapterCollectSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "chronocast_adapter_collect_seconds",
			Help:        "Time spent collecting history from the adapter",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		// Zero-shot inference on CPU runs well past the default buckets.
		PredictSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "chronocast_predict_seconds",
			Help:        "Time spent producing a forecast",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12),
		}),

		ModelLoadSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "chronocast_model_load_seconds",
			Help:        "Time spent loading a model handle",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"kind"}),

		ForecastAgeSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "chronocast_forecast_age_seconds",
			Help:        "Age of the stored forecast in seconds",
			ConstLabels: labels,
		}),

		ForecastPoints: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "chronocast_forecast_points",
			Help:        "Number of rows in the stored forecast",
			ConstLabels: labels,
		}),

		WarningsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "chronocast_warnings_total",
			Help:        "Total number of non-fatal forecast warnings",
			ConstLabels: labels,
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "chronocast_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
	}
}

// RecordCollect records the time spent collecting history.
func (m *Metrics) RecordCollect(seconds float64) {
	m.AdapterCollectSeconds.Observe(seconds)
}

// RecordPredict records the time spent forecasting.
func (m *Metrics) RecordPredict(seconds float64) {
	m.PredictSeconds.Observe(seconds)
}

// RecordModelLoad records a model load of the given kind ("quantile" or
// "dataframe").
func (m *Metrics) RecordModelLoad(kind string, seconds float64) {
	m.ModelLoadSeconds.WithLabelValues(kind).Observe(seconds)
}

// SetForecastAge sets the current forecast age.
func (m *Metrics) SetForecastAge(seconds float64) {
	m.ForecastAgeSeconds.Set(seconds)
}

// SetForecastPoints sets the row count of the stored forecast.
func (m *Metrics) SetForecastPoints(n int) {
	m.ForecastPoints.Set(float64(n))
}

// RecordWarnings adds n forecast warnings.
func (m *Metrics) RecordWarnings(n int) {
	m.WarningsTotal.Add(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
