package adapters

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPAdapter_Collect(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"records":[
			{"store":"north","day":"2024-01-02T00:00:00Z","units":7},
			{"store":"north","day":"2024-01-01T00:00:00Z","units":5},
			{"store":"south","day":"2024-01-01T00:00:00Z","units":3}
		]}`)
	}))
	defer srv.Close()

	ad := &HTTPAdapter{
		URL:           srv.URL,
		Method:        http.MethodPost,
		Headers:       map[string]string{"Authorization": "Bearer {{.Token}}"},
		Body:          `{"window":"{{.WindowSeconds}}s"}`,
		ValuePath:     "records.#.units",
		TimestampPath: "records.#.day",
		SeriesPath:    "records.#.store",
		TemplateVars:  map[string]string{"Token": "secret"},
	}

	df, err := ad.Collect(context.Background(), 86400)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", gotAuth)
	}
	if gotBody != `{"window":"86400s"}` {
		t.Errorf("body = %q, want rendered window", gotBody)
	}
	if df.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", df.Len())
	}
	if !df.HasColumn(ColumnSeries) {
		t.Fatalf("expected series column, got %v", df.Columns)
	}

	first := df.Rows[0]
	if !first[ColumnTimestamp].(time.Time).Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("rows not sorted by timestamp: first ts = %v", first[ColumnTimestamp])
	}
	last := df.Rows[2]
	if last[ColumnSeries] != "north" || last[ColumnValue] != 7.0 {
		t.Errorf("last row = %v, want north/7", last)
	}
}

func TestHTTPAdapter_TimestampFormats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		ts     string
		want   time.Time
	}{
		{name: "unix", format: "unix", ts: "1700000000", want: time.Unix(1700000000, 0)},
		{name: "unix milli", format: "unix_milli", ts: "1700000000000", want: time.Unix(1700000000, 0)},
		{name: "rfc3339 default", format: "", ts: `"2023-11-14T22:13:20Z"`, want: time.Unix(1700000000, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"data":[{"t":`+tt.ts+`,"v":1.5}]}`)
			}))
			defer srv.Close()

			ad := &HTTPAdapter{URL: srv.URL, ValuePath: "data.#.v", TimestampPath: "data.#.t", TimestampFormat: tt.format}
			df, err := ad.Collect(context.Background(), 60)
			if err != nil {
				t.Fatalf("Collect error: %v", err)
			}
			got := df.Rows[0][ColumnTimestamp].(time.Time)
			if !got.Equal(tt.want) {
				t.Errorf("ts = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPAdapter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		adapter HTTPAdapter
		wantMsg string
	}{
		{
			name:    "status",
			body:    "nope",
			status:  http.StatusBadGateway,
			adapter: HTTPAdapter{ValuePath: "v", TimestampPath: "t"},
			wantMsg: "http status 502",
		},
		{
			name:    "missing value path",
			body:    `{"t":[1]}`,
			status:  http.StatusOK,
			adapter: HTTPAdapter{ValuePath: "v", TimestampPath: "t", TimestampFormat: "unix"},
			wantMsg: "value path",
		},
		{
			name:    "length mismatch",
			body:    `{"v":[1,2],"t":[1]}`,
			status:  http.StatusOK,
			adapter: HTTPAdapter{ValuePath: "v", TimestampPath: "t", TimestampFormat: "unix"},
			wantMsg: "value count",
		},
		{
			name:    "series mismatch",
			body:    `{"v":[1],"t":[1],"s":["a","b"]}`,
			status:  http.StatusOK,
			adapter: HTTPAdapter{ValuePath: "v", TimestampPath: "t", SeriesPath: "s", TimestampFormat: "unix"},
			wantMsg: "series count",
		},
		{
			name:    "bad format",
			body:    `{}`,
			status:  http.StatusOK,
			adapter: HTTPAdapter{ValuePath: "v", TimestampPath: "t", TimestampFormat: "iso"},
			wantMsg: "invalid timestampFormat",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			ad := tt.adapter
			ad.URL = srv.URL
			_, err := ad.Collect(context.Background(), 60)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}
