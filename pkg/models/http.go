package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/HatiCode/chronocast/pkg/httpx"
)

// HTTPBackend delegates model loading and inference to an external HTTP
// service. The service implements three JSON endpoints:
//
//	POST /v1/models/load   {"model","kind","device","dtype"}            -> {"handle","quantiles"}
//	POST /v1/predict       {"handle","context","prediction_length",...} -> {"predictions": [series][quantile][step]}
//	POST /v1/predict_df    {"handle","context","future",...}            -> {"columns","rows"}
//
// Missing values travel as null in both directions.
type HTTPBackend struct {
	remote
}

// NewHTTPBackend creates a backend for the service at baseURL.
func NewHTTPBackend(baseURL string, opts Options) (*HTTPBackend, error) {
	opts = opts.withDefaults()
	client, err := httpx.NewClient(opts.TLS, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("http backend: %w", err)
	}
	logger := opts.Logger.With("backend", "http")
	opts.Logger = logger
	tr := &httpTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
	return &HTTPBackend{remote{
		transport: newBreakerTransport("http:"+baseURL, tr, opts),
		logger:    logger,
	}}, nil
}

var httpPaths = map[string]string{
	methodLoad:      "/v1/models/load",
	methodPredict:   "/v1/predict",
	methodPredictDF: "/v1/predict_df",
}

type httpTransport struct {
	baseURL string
	client  *http.Client
}

func (t *httpTransport) call(ctx context.Context, method string, payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+httpPaths[method], bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return raw, nil
}
