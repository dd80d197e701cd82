// Package engines adapts pretrained zero-shot forecasting models to the
// canonical series schema.
//
// Two engines exist and the set is closed:
//
//	chronos   univariate, no covariates; one batched call over all series,
//	          future timestamps generated per series
//	chronos2  multivariate long-format table with past and future
//	          covariates; the model returns timestamps and quantile columns
//
// Each engine owns one lazily loaded model handle. Construct engines once and
// reuse them so the load cost is paid a single time.
package engines

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/HatiCode/chronocast/pkg/adapters"
	"github.com/HatiCode/chronocast/pkg/frequency"
	"github.com/HatiCode/chronocast/pkg/models"
	"github.com/HatiCode/chronocast/pkg/schema"
)

// Kind identifies an engine.
type Kind string

const (
	Chronos  Kind = "chronos"
	Chronos2 Kind = "chronos2"
)

// Default model URIs per engine.
const (
	DefaultChronosModel  = "amazon/chronos-bolt-base"
	DefaultChronos2Model = "amazon/chronos-2"
)

// Kinds returns every supported engine kind.
func Kinds() []Kind { return []Kind{Chronos, Chronos2} }

// ParseKind matches name case-insensitively against the supported engines.
func ParseKind(name string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case Chronos:
		return Chronos, nil
	case Chronos2:
		return Chronos2, nil
	default:
		return "", fmt.Errorf("%w %q (must be chronos or chronos2)", schema.ErrUnknownEngine, name)
	}
}

// Config is the engine configuration fixed at construction.
type Config struct {
	Horizon    int
	Frequency  frequency.Frequency
	RandomSeed *int64
	// ModelURI overrides the engine's default model.
	ModelURI string
	Device   models.Device
	Backend  models.Backend
	Logger   *slog.Logger
}

// Input is one forecast call. Past and Future are optional covariate tables.
type Input struct {
	Context *adapters.DataFrame
	Past    *adapters.DataFrame
	Future  *adapters.DataFrame
	Columns schema.Columns
}

// Forecast is an engine's output in canonical form.
type Forecast struct {
	Points []schema.ForecastPoint
	// SyntheticID reports that the input had no item-id column.
	SyntheticID bool
	// Warnings are non-fatal conditions, e.g. *UnsupportedFeatureWarning.
	Warnings []error
}

// Engine forecasts normalized series with a pretrained model.
type Engine interface {
	Kind() Kind
	// Predict validates and normalizes the input before touching the model.
	Predict(ctx context.Context, in Input) (*Forecast, error)
	// Loaded reports whether the model handle has been loaded.
	Loaded() bool
}

// New creates the engine for kind.
func New(kind Kind, cfg Config) (Engine, error) {
	if cfg.Horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon must be positive, got %d", schema.ErrInvalidConfiguration, cfg.Horizon)
	}
	if cfg.Frequency.String() == "" {
		return nil, fmt.Errorf("%w: frequency is required", schema.ErrInvalidConfiguration)
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("%w: model backend is required", schema.ErrInvalidConfiguration)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	switch kind {
	case Chronos:
		return newChronos(cfg), nil
	case Chronos2:
		return newChronos2(cfg), nil
	default:
		return nil, fmt.Errorf("%w %q", schema.ErrUnknownEngine, kind)
	}
}

// UnsupportedFeatureWarning reports input an engine ignores.
type UnsupportedFeatureWarning struct {
	Engine  Kind
	Feature string
}

func (w *UnsupportedFeatureWarning) Error() string {
	return fmt.Sprintf("engine %s does not support %s; they are ignored", w.Engine, w.Feature)
}
