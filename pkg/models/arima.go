package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
)

// ARIMABackend serves an in-process ARIMA(p,d,q) model with optional
// seasonal differencing. Like BaselineBackend it needs no weights, so the
// model URI and device are ignored.
//
// Per series:
//  1. Take one seasonal difference at lag Season (when Season > 1), then D
//     regular differences.
//  2. Fit P AR coefficients to the centered stationary series with the
//     Yule-Walker equations (Levinson-Durbin), and Q MA coefficients from
//     the autocorrelation of the AR residuals.
//  3. Forecast the stationary series recursively with future errors taken
//     as zero, then integrate back.
//  4. Quantile q at step k = point + z(q) * residual stddev * sqrt(k).
//
// Series too short for the requested orders fall back to the baseline
// trend fit.
type ARIMABackend struct {
	P, D, Q int
	Season  int
}

// NewARIMABackend validates the model orders.
func NewARIMABackend(p, d, q, season int) (ARIMABackend, error) {
	if p < 0 || q < 0 {
		return ARIMABackend{}, fmt.Errorf("arima: p and q must be >= 0, got p=%d q=%d", p, q)
	}
	if d < 0 || d > 2 {
		return ARIMABackend{}, fmt.Errorf("arima: d must be in range [0, 2], got %d", d)
	}
	if season < 0 {
		return ARIMABackend{}, fmt.Errorf("arima: season must be >= 0, got %d", season)
	}
	return ARIMABackend{P: p, D: d, Q: q, Season: season}, nil
}

// parseARIMA reads orders from an endpoint query such as
// "p=2&d=1&q=1&season=24". Absent orders default to ARIMA(1,1,1).
func parseARIMA(query url.Values) (ARIMABackend, error) {
	orders := map[string]int{"p": 1, "d": 1, "q": 1, "season": 0}
	for name := range query {
		if _, ok := orders[name]; !ok {
			return ARIMABackend{}, fmt.Errorf("arima: unknown parameter %q (must be p, d, q, or season)", name)
		}
		v, err := strconv.Atoi(query.Get(name))
		if err != nil {
			return ARIMABackend{}, fmt.Errorf("arima: %s: %w", name, err)
		}
		orders[name] = v
	}
	return NewARIMABackend(orders["p"], orders["d"], orders["q"], orders["season"])
}

func (b ARIMABackend) LoadQuantileModel(ctx context.Context, _ string, _ Device) (QuantileModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return localQuantileModel{name: b.name(), fit: b.fit}, nil
}

func (b ARIMABackend) LoadDataFrameModel(ctx context.Context, _ string, _ Device) (DataFrameModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return localDataFrameModel{name: b.name(), fit: b.fit}, nil
}

func (b ARIMABackend) name() string {
	return fmt.Sprintf("arima(%d,%d,%d)", b.P, b.D, b.Q)
}

func (b ARIMABackend) minPoints() int {
	return max(b.P+b.D+b.Q+2*b.Season, 10)
}

// arimaForecast is a fitted ARIMA model for one series.
type arimaForecast struct {
	ar, ma    []float64
	mean      float64
	centered  []float64
	residuals []float64
	// lastLevels[i] is the last value after i regular differences.
	lastLevels []float64
	season     int
	// seasonTail holds the last season observations before seasonal differencing.
	seasonTail []float64
	stddev     float64
}

func (b ARIMABackend) fit(values []float64) seriesForecast {
	observed := dropNaN(values)
	if len(observed) < b.minPoints() {
		return fitTrend(values)
	}

	f := &arimaForecast{season: b.Season}
	series := observed
	if b.Season > 1 {
		f.seasonTail = slices.Clone(observed[len(observed)-b.Season:])
		series = seasonalDifference(observed, b.Season)
	}
	for i := 0; i < b.D; i++ {
		f.lastLevels = append(f.lastLevels, series[len(series)-1])
		series = difference(series)
	}

	f.mean = computeMean(series)
	f.centered = make([]float64, len(series))
	for i, v := range series {
		f.centered[i] = v - f.mean
	}

	f.ar = fitAR(f.centered, b.P)
	f.residuals = computeResiduals(f.centered, f.ar, b.P)
	f.ma = fitMA(f.residuals, b.Q)

	if len(f.residuals) > 1 {
		var sumSq float64
		for _, r := range f.residuals {
			sumSq += r * r
		}
		f.stddev = math.Sqrt(sumSq / float64(len(f.residuals)-1))
	}
	return f
}

func (f *arimaForecast) quantile(q float64, steps int) []float64 {
	out := f.points(steps)
	z := normalQuantile(q)
	for k := range out {
		out[k] += z * f.stddev * math.Sqrt(float64(k+1))
	}
	return out
}

// points returns the point forecast for steps 1..steps.
func (f *arimaForecast) points(steps int) []float64 {
	hist := slices.Clone(f.centered)
	errs := slices.Clone(f.residuals)
	out := make([]float64, steps)
	for k := range out {
		var x float64
		for i, phi := range f.ar {
			if j := len(hist) - 1 - i; j >= 0 {
				x += phi * hist[j]
			}
		}
		for i, theta := range f.ma {
			if j := len(errs) - 1 - i; j >= 0 {
				x += theta * errs[j]
			}
		}
		hist = append(hist, x)
		errs = append(errs, 0)
		out[k] = x + f.mean
	}

	for lvl := len(f.lastLevels) - 1; lvl >= 0; lvl-- {
		prev := f.lastLevels[lvl]
		for k := range out {
			prev += out[k]
			out[k] = prev
		}
	}

	if f.season > 1 {
		full := append(slices.Clone(f.seasonTail), make([]float64, steps)...)
		for k := range out {
			full[f.season+k] = out[k] + full[k]
		}
		copy(out, full[f.season:])
	}
	return out
}

// difference returns the first difference of series.
func difference(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	result := make([]float64, len(series)-1)
	for i := range result {
		result[i] = series[i+1] - series[i]
	}
	return result
}

// seasonalDifference returns series[i+s] - series[i].
func seasonalDifference(series []float64, s int) []float64 {
	if len(series) <= s {
		return nil
	}
	result := make([]float64, len(series)-s)
	for i := range result {
		result[i] = series[i+s] - series[i]
	}
	return result
}

func computeMean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

func computeVariance(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	mean := computeMean(series)
	var sumSq float64
	for _, v := range series {
		diff := v - mean
		sumSq += diff * diff
	}
	return sumSq / float64(len(series))
}

// fitAR estimates AR coefficients using Yule-Walker equations with
// Levinson-Durbin. Flat or numerically unstable series get zero
// coefficients.
func fitAR(centered []float64, p int) []float64 {
	coeffs := make([]float64, p)
	if p == 0 || computeVariance(centered) < 1e-10 {
		return coeffs
	}

	acf := make([]float64, p+1)
	for k := 0; k <= p; k++ {
		acf[k] = autocorr(centered, k)
	}
	solved, err := levinsonDurbin(acf, p)
	if err != nil {
		return coeffs
	}
	return solved
}

// autocorr computes autocorrelation at given lag
func autocorr(series []float64, lag int) float64 {
	if lag < 0 || lag >= len(series) {
		return 0
	}

	n := len(series)
	mean := computeMean(series)

	var c0, ck float64
	for i := range n {
		c0 += (series[i] - mean) * (series[i] - mean)
	}
	for i := 0; i < n-lag; i++ {
		ck += (series[i] - mean) * (series[i+lag] - mean)
	}

	if c0 == 0 {
		return 0
	}
	return ck / c0
}

// levinsonDurbin solves the Yule-Walker equations.
func levinsonDurbin(acf []float64, p int) ([]float64, error) {
	phi := make([][]float64, p+1)
	for i := range phi {
		phi[i] = make([]float64, p+1)
	}

	v := acf[0]
	for k := 1; k <= p; k++ {
		num := acf[k]
		for j := 1; j < k; j++ {
			num -= phi[k-1][j] * acf[k-j]
		}

		if v == 0 {
			return nil, errors.New("numerical instability in Levinson-Durbin")
		}
		phi[k][k] = num / v

		for j := 1; j < k; j++ {
			phi[k][j] = phi[k-1][j] - phi[k][k]*phi[k-1][k-j]
		}

		v *= 1 - phi[k][k]*phi[k][k]
		if v < 0 {
			return nil, errors.New("negative variance in Levinson-Durbin")
		}
	}

	coeffs := make([]float64, p)
	for i := range p {
		coeffs[i] = phi[p][i+1]
	}
	return coeffs, nil
}

// computeResiduals returns the one-step AR prediction errors.
func computeResiduals(centered []float64, arCoeffs []float64, p int) []float64 {
	if len(centered) <= p {
		return nil
	}

	residuals := make([]float64, len(centered)-p)
	for t := p; t < len(centered); t++ {
		var arPred float64
		for i := 0; i < p && i < len(arCoeffs); i++ {
			arPred += arCoeffs[i] * centered[t-1-i]
		}
		residuals[t-p] = centered[t] - arPred
	}
	return residuals
}

// fitMA approximates MA coefficients by the residual autocorrelations,
// clamped inside the unit interval.
func fitMA(residuals []float64, q int) []float64 {
	coeffs := make([]float64, q)
	for i := 0; i < q && i < len(residuals); i++ {
		coeffs[i] = autocorr(residuals, i+1)
		if math.Abs(coeffs[i]) > 1 {
			coeffs[i] = math.Copysign(0.9, coeffs[i])
		}
	}
	return coeffs
}
