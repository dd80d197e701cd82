package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PrometheusAdapter fetches history from the Prometheus HTTP API.
// It issues a /api/v1/query_range call and returns a *DataFrame with rows of the form:
//
//	{"ts": time.Time, "value": float64}
//
// When SeriesLabel is empty, values of all returned series that share a
// timestamp are SUMMED into one series. When SeriesLabel is set, every returned
// series stays separate and its label value is written to the "series" column,
// which callers use as the item id column for multi-series forecasts.
type PrometheusAdapter struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate.
	Query string
	// StepSeconds controls the resolution (defaults to 60s if <= 0).
	StepSeconds int
	// SeriesLabel keeps series apart, keyed by this label's value.
	SeriesLabel string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Collect implements Adapter. It queries Prometheus for the last windowSeconds worth
// of data, at StepSeconds resolution.
func (p *PrometheusAdapter) Collect(ctx context.Context, windowSeconds int) (*DataFrame, error) {
	if p.ServerURL == "" || p.Query == "" {
		return &DataFrame{}, errors.New("prometheus adapter: ServerURL and Query are required")
	}
	pr, err := queryRange(ctx, p.HTTPClient, p.ServerURL, p.Query, p.StepSeconds, windowSeconds)
	if err != nil {
		return &DataFrame{}, fmt.Errorf("prometheus: %w", err)
	}
	return rangeFrame(pr.Data.Result, p.SeriesLabel)
}

// queryRange runs a range query against a Prometheus-compatible API.
func queryRange(ctx context.Context, cli *http.Client, serverURL, query string, stepSeconds, windowSeconds int) (*PrometheusRangeResponse, error) {
	step := stepSeconds
	if step <= 0 {
		step = 60
	}
	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-time.Duration(windowSeconds) * time.Second)

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query_range"

	q := u.Query()
	q.Set("query", query)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(now.Unix(), 10))
	q.Set("step", strconv.Itoa(step))
	u.RawQuery = q.Encode()

	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var pr PrometheusRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("query status: %s", pr.Status)
	}
	return &pr, nil
}

// rangeFrame turns a range result into a sorted DataFrame.
func rangeFrame(series []PrometheusRangeSerie, seriesLabel string) (*DataFrame, error) {
	if seriesLabel == "" {
		rows, err := AggregateRangeResult(series)
		if err != nil {
			return &DataFrame{}, err
		}
		sortRows(rows)
		return &DataFrame{Columns: []string{ColumnTimestamp, ColumnValue}, Rows: rows}, nil
	}

	var rows []Row
	for _, s := range series {
		id := s.Metric[seriesLabel]
		points, err := parsePairs(s.Values)
		if err != nil {
			return &DataFrame{}, err
		}
		for _, pt := range points {
			rows = append(rows, Row{
				ColumnSeries:    id,
				ColumnTimestamp: time.Unix(pt.ts, 0).UTC(),
				ColumnValue:     pt.value,
			})
		}
	}
	sortRows(rows)
	return &DataFrame{Columns: []string{ColumnSeries, ColumnTimestamp, ColumnValue}, Rows: rows}, nil
}

// PrometheusRangeResponse represents the response from Prometheus (and compatible systems).
type PrometheusRangeResponse struct {
	Status string              `json:"status"`
	Data   PrometheusRangeData `json:"data"`
}

// PrometheusRangeData contains the result data from a range query.
type PrometheusRangeData struct {
	ResultType string                 `json:"resultType"`
	Result     []PrometheusRangeSerie `json:"result"`
}

// PrometheusRangeSerie represents a single time series in the result.
type PrometheusRangeSerie struct {
	Metric map[string]string `json:"metric"`
	// Values is an array of [ <unix_time_float>, "<value_string>" ]
	Values [][]any `json:"values"`
}

type rangePoint struct {
	ts    int64
	value float64
}

func parsePairs(pairs [][]any) ([]rangePoint, error) {
	points := make([]rangePoint, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid value pair length: %d", len(pair))
		}

		var tsSec int64
		switch v := pair[0].(type) {
		case float64:
			tsSec = int64(v)
		case json.Number:
			f, _ := v.Float64()
			tsSec = int64(f)
		default:
			return nil, fmt.Errorf("unexpected timestamp type %T", v)
		}

		var val float64
		switch vv := pair[1].(type) {
		case string:
			f, err := strconv.ParseFloat(vv, 64)
			if err != nil {
				return nil, fmt.Errorf("parse value: %w", err)
			}
			val = f
		case float64:
			val = vv
		case json.Number:
			f, _ := vv.Float64()
			val = f
		default:
			return nil, fmt.Errorf("unexpected value type %T", vv)
		}
		points = append(points, rangePoint{ts: tsSec, value: val})
	}
	return points, nil
}

// AggregateRangeResult aggregates multiple series into rows, summing values at the same timestamp.
func AggregateRangeResult(series []PrometheusRangeSerie) ([]Row, error) {
	acc := make(map[int64]float64)
	for _, s := range series {
		points, err := parsePairs(s.Values)
		if err != nil {
			return nil, err
		}
		for _, pt := range points {
			acc[pt.ts] += pt.value
		}
	}

	rows := make([]Row, 0, len(acc))
	for ts, v := range acc {
		rows = append(rows, Row{
			ColumnTimestamp: time.Unix(ts, 0).UTC(),
			ColumnValue:     v,
		})
	}
	return rows, nil
}
