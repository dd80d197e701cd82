package models

import (
	"context"
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestARIMA_LinearTrend(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = 10 + 2*float64(i)
	}
	b, err := NewARIMABackend(1, 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	fc := b.fit(values)
	if _, ok := fc.(*arimaForecast); !ok {
		t.Fatalf("fit() = %T, want *arimaForecast", fc)
	}

	last := values[len(values)-1]
	for _, q := range []float64{0.1, 0.5, 0.9} {
		got := fc.quantile(q, 4)
		for k, v := range got {
			want := last + 2*float64(k+1)
			if !near(v, want) {
				t.Errorf("quantile(%v)[%d] = %v, want %v", q, k, v, want)
			}
		}
	}
}

func TestARIMA_SeasonalPattern(t *testing.T) {
	pattern := []float64{1, 5, 3, 7}
	var values []float64
	for range 6 {
		values = append(values, pattern...)
	}
	b, err := NewARIMABackend(0, 0, 0, 4)
	if err != nil {
		t.Fatal(err)
	}

	got := b.fit(values).quantile(0.5, 8)
	for k, v := range got {
		if want := pattern[k%4]; !near(v, want) {
			t.Errorf("step %d = %v, want %v", k+1, v, want)
		}
	}
}

func TestARIMA_ShortSeriesFallsBack(t *testing.T) {
	b := ARIMABackend{P: 2, D: 1, Q: 1}
	fc := b.fit([]float64{1, 2, 3, math.NaN(), 4})
	if _, ok := fc.(trendForecast); !ok {
		t.Errorf("fit() = %T, want trendForecast", fc)
	}
}

func TestARIMA_QuantilesOrdered(t *testing.T) {
	values := make([]float64, 48)
	for i := range values {
		values[i] = 100 + 10*math.Sin(float64(i)/3) + float64(i%5)
	}

	m, err := ARIMABackend{P: 2, D: 1, Q: 1}.LoadQuantileModel(context.Background(), "", CPU)
	if err != nil {
		t.Fatal(err)
	}
	out, err := m.Predict(context.Background(), QuantileRequest{Context: [][]float64{values}, PredictionLength: 6})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	levels := out[0]
	if len(levels) != len(m.Quantiles()) {
		t.Fatalf("levels = %d, want %d", len(levels), len(m.Quantiles()))
	}
	for k := 0; k < 6; k++ {
		for qi := 1; qi < len(levels); qi++ {
			if levels[qi][k] < levels[qi-1][k] {
				t.Errorf("step %d: quantile %d (%v) below quantile %d (%v)", k, qi, levels[qi][k], qi-1, levels[qi-1][k])
			}
		}
		if math.IsNaN(levels[4][k]) || math.IsInf(levels[4][k], 0) {
			t.Errorf("step %d: median = %v", k, levels[4][k])
		}
	}
}

func TestNewARIMABackend_Validation(t *testing.T) {
	tests := []struct {
		p, d, q, s int
		wantErr    bool
	}{
		{1, 1, 1, 0, false},
		{0, 0, 0, 12, false},
		{-1, 1, 1, 0, true},
		{1, 3, 1, 0, true},
		{1, 1, -1, 0, true},
		{1, 1, 1, -4, true},
	}
	for _, tt := range tests {
		if _, err := NewARIMABackend(tt.p, tt.d, tt.q, tt.s); (err != nil) != tt.wantErr {
			t.Errorf("NewARIMABackend(%d,%d,%d,%d) error = %v, wantErr %v", tt.p, tt.d, tt.q, tt.s, err, tt.wantErr)
		}
	}
}

func TestLevinsonDurbin_AR1(t *testing.T) {
	// An AR(1) process with phi=0.6 has autocorrelations 1, 0.6, 0.36.
	coeffs, err := levinsonDurbin([]float64{1, 0.6, 0.36}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !near(coeffs[0], 0.6) || !near(coeffs[1], 0) {
		t.Errorf("coeffs = %v, want [0.6 0]", coeffs)
	}
}
