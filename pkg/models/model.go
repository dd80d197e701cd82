// Package models provides access to pretrained forecasting models.
//
// Weights and inference live behind a Backend, selected by endpoint scheme:
//
//	http://host, https://host   JSON over HTTP (see HTTPBackend)
//	grpc://host:port            gRPC unary calls with Struct payloads (see GRPCBackend)
//	local://baseline            in-process trend model, for offline runs and tests
//	local://arima?p=1&d=1&q=1   in-process ARIMA model (see ARIMABackend)
//
// Two model shapes exist. A QuantileModel takes plain context arrays and
// returns a (series, quantile, step) tensor. A DataFrameModel takes a whole
// long-format table, optionally with future covariates, and returns a table
// with one column per requested quantile.
package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/HatiCode/chronocast/pkg/adapters"
	chronotls "github.com/HatiCode/chronocast/pkg/tls"
)

// QuantileRequest is a batch of univariate contexts.
type QuantileRequest struct {
	// Context holds one ordered target slice per series; NaN marks a missing value.
	Context          [][]float64
	PredictionLength int
	Seed             *int64
}

// QuantileModel forecasts univariate series at a fixed set of quantile levels.
type QuantileModel interface {
	// Quantiles returns the levels of the model's quantile axis, ascending.
	Quantiles() []float64
	// Predict returns predictions indexed [series][quantile][step].
	Predict(ctx context.Context, req QuantileRequest) ([][][]float64, error)
}

// DataFrameRequest is a long-format, multi-series forecast request.
type DataFrameRequest struct {
	Context *adapters.DataFrame
	// Future holds known future covariates; nil when there are none.
	Future           *adapters.DataFrame
	PredictionLength int
	QuantileLevels   []float64
	IDColumn         string
	TimestampColumn  string
	Target           string
	// Frequency is the frequency code of the series, for backends that need
	// to generate future timestamps.
	Frequency string
	Seed      *int64
}

// DataFrameModel forecasts a long-format table. The result has the id and
// timestamp columns plus one column per quantile level, named by the level
// ("0.1", "0.5", "0.9").
type DataFrameModel interface {
	PredictDF(ctx context.Context, req DataFrameRequest) (*adapters.DataFrame, error)
}

// Backend loads models by URI onto a device.
type Backend interface {
	LoadQuantileModel(ctx context.Context, uri string, device Device) (QuantileModel, error)
	LoadDataFrameModel(ctx context.Context, uri string, device Device) (DataFrameModel, error)
}

// Options configure remote backends.
type Options struct {
	TLS     chronotls.Config
	Timeout time.Duration
	// BreakerFailures is the number of consecutive failed calls that opens
	// the circuit breaker; BreakerTimeout is how long it stays open.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	Logger          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NewBackend creates a backend for the given endpoint.
func NewBackend(endpoint string, opts Options) (Backend, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid model endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "http", "https":
		b, err := NewHTTPBackend(endpoint, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "grpc":
		b, err := NewGRPCBackend(u.Host, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "local":
		switch u.Host {
		case "baseline":
			return BaselineBackend{}, nil
		case "arima":
			b, err := parseARIMA(u.Query())
			if err != nil {
				return nil, err
			}
			return b, nil
		default:
			return nil, fmt.Errorf("unknown local backend %q (must be baseline or arima)", u.Host)
		}
	default:
		return nil, fmt.Errorf("unknown model endpoint scheme %q (must be http, https, grpc, or local)", u.Scheme)
	}
}

// Device is the resolved placement for model weights.
type Device struct {
	Name  string
	DType string
}

var (
	CPU  = Device{Name: "cpu", DType: "float32"}
	CUDA = Device{Name: "cuda", DType: "bfloat16"}
)

// acceleratorPresent reports whether a CUDA device is visible to this process.
var acceleratorPresent = func() bool {
	if v, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok {
		return v != "" && v != "-1"
	}
	_, err := os.Stat("/dev/nvidia0")
	return err == nil
}

// ResolveDevice maps a device policy ("auto", "cpu", "cuda") to a Device.
// "auto" picks CUDA when an accelerator is visible and CPU otherwise.
func ResolveDevice(policy string) (Device, error) {
	switch policy {
	case "", "auto":
		if acceleratorPresent() {
			return CUDA, nil
		}
		return CPU, nil
	case "cpu":
		return CPU, nil
	case "cuda":
		return CUDA, nil
	default:
		return Device{}, errors.New("device must be auto, cpu, or cuda")
	}
}
