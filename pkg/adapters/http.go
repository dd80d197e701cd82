package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPAdapter calls an arbitrary REST endpoint and extracts a history table
// from its JSON response with gjson paths.
//
// Body and header values are text/template strings with these variables:
// {{.WindowSeconds}}, {{.Start}}, {{.End}}, {{.Step}}, {{.StartRFC3339}},
// {{.EndRFC3339}} plus everything in TemplateVars.
//
// Example configuration for a sales API returning one record per store and day:
//
//	adapter := &HTTPAdapter{
//	    URL:           "https://api.example.com/sales",
//	    ValuePath:     "records.#.units",
//	    TimestampPath: "records.#.day",
//	    SeriesPath:    "records.#.store",
//	}
type HTTPAdapter struct {
	// URL is the endpoint to call (required)
	URL string

	// Method is the HTTP method. Defaults to GET.
	Method string

	// Headers are extra request headers; values may use template variables.
	Headers map[string]string

	// Body is the request body template.
	Body string

	// ValuePath extracts the observed values, e.g. "data.#.value".
	ValuePath string

	// TimestampPath extracts timestamps; must yield as many elements as ValuePath.
	TimestampPath string

	// SeriesPath optionally extracts a series id per element. When set, the
	// frame carries a "series" column.
	SeriesPath string

	// TimestampFormat is one of "rfc3339" (default), "unix", "unix_milli".
	TimestampFormat string

	// StepSeconds controls the resolution (defaults to 60s if <= 0).
	StepSeconds int

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in Body and Headers templates.
	TemplateVars map[string]string
}

func (h *HTTPAdapter) Name() string { return "http" }

// Collect implements Adapter.
func (h *HTTPAdapter) Collect(ctx context.Context, windowSeconds int) (*DataFrame, error) {
	if err := h.ValidateConfig(); err != nil {
		return &DataFrame{}, fmt.Errorf("http adapter: %w", err)
	}

	step := h.StepSeconds
	if step <= 0 {
		step = 60
	}
	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-time.Duration(windowSeconds) * time.Second)

	data := map[string]any{
		"WindowSeconds": windowSeconds,
		"Start":         start.Unix(),
		"End":           now.Unix(),
		"Step":          step,
		"StartRFC3339":  start.Format(time.RFC3339),
		"EndRFC3339":    now.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		data[k] = v
	}

	body, err := h.fetch(ctx, data)
	if err != nil {
		return &DataFrame{}, err
	}
	return h.frame(body)
}

func (h *HTTPAdapter) fetch(ctx context.Context, data map[string]any) ([]byte, error) {
	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, data)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, data)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(msg))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return raw, nil
}

func (h *HTTPAdapter) frame(raw []byte) (*DataFrame, error) {
	values := gjson.GetBytes(raw, h.ValuePath)
	if !values.Exists() {
		return &DataFrame{}, fmt.Errorf("value path %q not found in response", h.ValuePath)
	}
	timestamps := gjson.GetBytes(raw, h.TimestampPath)
	if !timestamps.Exists() {
		return &DataFrame{}, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
	}

	valArray := values.Array()
	tsArray := timestamps.Array()
	if len(valArray) != len(tsArray) {
		return &DataFrame{}, fmt.Errorf("value count (%d) != timestamp count (%d)", len(valArray), len(tsArray))
	}

	var series []gjson.Result
	columns := []string{ColumnTimestamp, ColumnValue}
	if h.SeriesPath != "" {
		series = gjson.GetBytes(raw, h.SeriesPath).Array()
		if len(series) != len(valArray) {
			return &DataFrame{}, fmt.Errorf("series count (%d) != value count (%d)", len(series), len(valArray))
		}
		columns = []string{ColumnSeries, ColumnTimestamp, ColumnValue}
	}

	rows := make([]Row, 0, len(valArray))
	for i := range valArray {
		ts, err := h.parseTimestamp(tsArray[i])
		if err != nil {
			return &DataFrame{}, fmt.Errorf("parse timestamp[%d]: %w", i, err)
		}
		row := Row{ColumnTimestamp: ts, ColumnValue: valArray[i].Float()}
		if series != nil {
			row[ColumnSeries] = series[i].String()
		}
		rows = append(rows, row)
	}
	sortRows(rows)

	return &DataFrame{Columns: columns, Rows: rows}, nil
}

func (h *HTTPAdapter) parseTimestamp(value gjson.Result) (time.Time, error) {
	switch h.TimestampFormat {
	case "", "rfc3339":
		ts, err := time.Parse(time.RFC3339, value.String())
		return ts.UTC(), err
	case "unix":
		return time.Unix(int64(value.Float()), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(value.Float())).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", h.TimestampFormat)
	}
}

func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}
	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ValidateConfig checks if the adapter configuration is valid.
func (h *HTTPAdapter) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.ValuePath == "" || h.TimestampPath == "" {
		return errors.New("valuePath and timestampPath are required")
	}
	switch h.TimestampFormat {
	case "", "rfc3339", "unix", "unix_milli":
		return nil
	default:
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}
}
