package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HatiCode/chronocast/cmd/forecaster/config"
	"github.com/HatiCode/chronocast/cmd/forecaster/models"
	"github.com/HatiCode/chronocast/pkg/adapters"
	"github.com/HatiCode/chronocast/pkg/forecaster"
	pkgmodels "github.com/HatiCode/chronocast/pkg/models"
	"github.com/HatiCode/chronocast/pkg/schema"
	"github.com/HatiCode/chronocast/pkg/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// stubPredictor returns a fixed result or error.
type stubPredictor struct {
	err   error
	calls int
}

func (s *stubPredictor) Predict(ctx context.Context, df, past, future *adapters.DataFrame) (*forecaster.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := adapters.NewDataFrame("ts", "value_predicted", schema.LowerBound, schema.UpperBound)
	out.Append(adapters.Row{
		"ts":              time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		"value_predicted": 10.0,
		schema.LowerBound: 8.0,
		schema.UpperBound: 12.0,
	})
	return &forecaster.Result{Frame: out}, nil
}

func (s *stubPredictor) Info() models.Info {
	return models.Info{Engine: "chronos2", Horizon: 1, Frequency: "h"}
}

func baselinePredictor(t *testing.T) models.Predictor {
	t.Helper()
	p, err := models.NewPredictor(&config.Config{
		Engine:      "chronos2",
		Device:      "cpu",
		Horizon:     3,
		Frequency:   "h",
		DatetimeCol: "ts",
		TargetCol:   "value",
		Seed:        config.NoSeed,
	}, pkgmodels.BaselineBackend{}, discard)
	if err != nil {
		t.Fatalf("NewPredictor() error = %v", err)
	}
	return p
}

func storedSnapshot(name string, generatedAt time.Time) storage.Snapshot {
	frame := adapters.NewDataFrame("ts", "value_predicted")
	frame.Append(adapters.Row{"ts": generatedAt.Add(time.Hour), "value_predicted": 42.0})
	return storage.NewSnapshot(name, "chronos2", 1, "h", frame, nil, generatedAt)
}

func TestHealthEndpoint(t *testing.T) {
	h := SetupRoutes(storage.NewMemoryStore(), &stubPredictor{}, 2*time.Minute, discard)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("status = %d, body = %q", w.Code, w.Body.String())
	}
}

// pingStore is a memory store that also answers pings.
type pingStore struct {
	*storage.MemoryStore
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

func TestHealthEndpoint_PingsStore(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "store up", wantStatus: http.StatusOK},
		{name: "store down", err: fmt.Errorf("connection refused"), wantStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := pingStore{MemoryStore: storage.NewMemoryStore(), err: tt.err}
			h := SetupRoutes(store, &stubPredictor{}, time.Minute, discard)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %q)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.err != nil && !strings.Contains(w.Body.String(), "store unavailable") {
				t.Errorf("body = %q, want store error", w.Body.String())
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := SetupRoutes(storage.NewMemoryStore(), &stubPredictor{}, 2*time.Minute, discard)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Content-Type header should be set for metrics endpoint")
	}
}

func TestGetSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now()
	if err := store.Put(context.Background(), storedSnapshot("fresh", now)); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(context.Background(), storedSnapshot("old", now.Add(-5*time.Minute))); err != nil {
		t.Fatal(err)
	}
	h := SetupRoutes(store, &stubPredictor{}, 2*time.Minute, discard)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantStale  bool
	}{
		{name: "missing name", query: "", wantStatus: http.StatusBadRequest},
		{name: "invalid name", query: "?name=a%2Fb", wantStatus: http.StatusBadRequest},
		{name: "not found", query: "?name=missing", wantStatus: http.StatusNotFound},
		{name: "fresh", query: "?name=fresh", wantStatus: http.StatusOK},
		{name: "stale", query: "?name=old", wantStatus: http.StatusOK, wantStale: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/forecast/current"+tt.query, nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := w.Header().Get(StaleHeader) == "true"; got != tt.wantStale {
				t.Errorf("stale = %v, want %v", got, tt.wantStale)
			}
			if w.Code != http.StatusOK {
				return
			}
			var snap storage.Snapshot
			if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if snap.Name != strings.TrimPrefix(tt.query, "?name=") || len(snap.Rows) != 1 {
				t.Errorf("snapshot = %+v", snap)
			}
		})
	}
}

func TestGetSnapshot_MethodNotAllowed(t *testing.T) {
	h := SetupRoutes(storage.NewMemoryStore(), &stubPredictor{}, time.Minute, discard)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/forecast/current?name=x", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func hourlyRows(n int) string {
	var b strings.Builder
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"ts":%q,"value":%d}`, start.Add(time.Duration(i)*time.Hour).Format(time.RFC3339), 10+2*i)
	}
	return b.String()
}

func TestForecast(t *testing.T) {
	store := storage.NewMemoryStore()
	h := SetupRoutes(store, baselinePredictor(t), time.Minute, discard)

	body := `{"name":"adhoc","rows":[` + hourlyRows(12) + `]}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/forecast", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var snap storage.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	wantCols := []string{"ts", "value_predicted", schema.LowerBound, schema.UpperBound}
	if fmt.Sprint(snap.Columns) != fmt.Sprint(wantCols) {
		t.Errorf("columns = %v, want %v", snap.Columns, wantCols)
	}
	if len(snap.Rows) != 3 || snap.Engine != "chronos2" || snap.Horizon != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Rows[0][0] != "2024-03-01T12:00:00Z" {
		t.Errorf("first timestamp = %v", snap.Rows[0][0])
	}

	if _, found, _ := store.GetLatest(context.Background(), "adhoc"); !found {
		t.Error("named forecast was not stored")
	}
}

func TestForecast_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		predictErr error
		wantStatus int
		wantMsg    string
	}{
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest, wantMsg: "empty"},
		{name: "malformed", body: `{"rows":`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"rows":[{"ts":"2024-01-01"}],"extra":1}`, wantStatus: http.StatusBadRequest},
		{name: "no rows", body: `{"rows":[]}`, wantStatus: http.StatusBadRequest, wantMsg: "rows"},
		{name: "invalid name", body: `{"name":"a b","rows":[{"ts":"2024-01-01"}]}`, wantStatus: http.StatusBadRequest},
		{
			name:       "configuration",
			body:       `{"rows":[{"ts":"2024-01-01"}]}`,
			predictErr: fmt.Errorf("%w: horizon", schema.ErrInvalidConfiguration),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing column",
			body:       `{"rows":[{"ts":"2024-01-01"}]}`,
			predictErr: fmt.Errorf("%w: \"value\"", schema.ErrColumnNotFound),
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "value",
		},
		{
			name:       "duplicate",
			body:       `{"rows":[{"ts":"2024-01-01"}]}`,
			predictErr: schema.ErrDuplicateTimestamp,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "internal",
			body:       `{"rows":[{"ts":"2024-01-01"}]}`,
			predictErr: fmt.Errorf("chronos2: predict: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "forecast failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := SetupRoutes(storage.NewMemoryStore(), &stubPredictor{err: tt.predictErr}, time.Minute, discard)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/forecast", strings.NewReader(tt.body)))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if resp["error"] == "" || !strings.Contains(resp["error"], tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", resp["error"], tt.wantMsg)
			}
		})
	}
}

func TestForecast_Covariates(t *testing.T) {
	stub := &stubPredictor{}
	h := SetupRoutes(storage.NewMemoryStore(), stub, time.Minute, discard)

	body := `{"rows":[{"ts":"2024-01-01","value":1}],"future":[{"ts":"2024-01-02","promo":1}]}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/forecast", strings.NewReader(body)))

	if w.Code != http.StatusOK || stub.calls != 1 {
		t.Fatalf("status = %d, calls = %d", w.Code, stub.calls)
	}
}

func TestToFrame(t *testing.T) {
	if toFrame(nil) != nil {
		t.Error("toFrame(nil) should be nil")
	}
	df := toFrame([]map[string]any{{"value": 1, "ts": "a"}, {"store": "north"}})
	if fmt.Sprint(df.Columns) != "[store ts value]" || df.Len() != 2 {
		t.Errorf("frame = %v / %d rows", df.Columns, df.Len())
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(fmt.Errorf("wrap: %w", schema.ErrUnknownEngine)); got != http.StatusBadRequest {
		t.Errorf("unknown engine status = %d", got)
	}
	if got := statusFor(fmt.Errorf("past %w", schema.ErrInvalidValue)); got != http.StatusUnprocessableEntity {
		t.Errorf("invalid value status = %d", got)
	}
	if got := statusFor(context.DeadlineExceeded); got != http.StatusGatewayTimeout {
		t.Errorf("deadline status = %d", got)
	}
}
