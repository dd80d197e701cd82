package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("forecaster", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return Parse(fs, args)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse(t, "-name", "sales", "-adapter", "prometheus")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Engine != "chronos2" || cfg.ModelEndpoint != "local://baseline" {
		t.Errorf("engine = %s, endpoint = %s", cfg.Engine, cfg.ModelEndpoint)
	}
	if cfg.Horizon != 24 || cfg.Frequency != "h" {
		t.Errorf("horizon = %d, frequency = %s", cfg.Horizon, cfg.Frequency)
	}
	if cfg.DatetimeCol != "ts" || cfg.TargetCol != "value" || cfg.ItemIDCol != "" {
		t.Errorf("columns = %s/%s/%s", cfg.DatetimeCol, cfg.TargetCol, cfg.ItemIDCol)
	}
	if cfg.RandomSeed() != nil {
		t.Errorf("RandomSeed() = %v, want nil", *cfg.RandomSeed())
	}
	if cfg.Interval != 5*time.Minute || cfg.Storage != "memory" {
		t.Errorf("interval = %v, storage = %s", cfg.Interval, cfg.Storage)
	}
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing name", args: []string{"-adapter", "csv"}, wantErr: "-name"},
		{name: "invalid name", args: []string{"-name", "a/b", "-adapter", "csv"}, wantErr: "-name"},
		{name: "missing adapter", args: []string{"-name", "sales"}, wantErr: "-adapter is required"},
		{name: "zero horizon", args: []string{"-name", "sales", "-adapter", "csv", "-horizon", "0"}, wantErr: "-horizon"},
		{name: "bad storage", args: []string{"-name", "sales", "-adapter", "csv", "-storage", "etcd"}, wantErr: "-storage"},
		{name: "bad seed", args: []string{"-name", "sales", "-adapter", "csv", "-seed", "-5"}, wantErr: "-seed"},
		{name: "tls without files", args: []string{"-name", "sales", "-adapter", "csv", "-tls-enabled"}, wantErr: "server tls"},
		{name: "once without input", args: []string{"-once"}, wantErr: "-input is required"},
		{name: "once needs no name", args: []string{"-once", "-input", "history.csv"}},
		{name: "seed", args: []string{"-name", "sales", "-adapter", "csv", "-seed", "7"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.args...)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Parse() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forecaster.yaml")
	yaml := `name: from-file
adapter: prometheus
adapter-config:
  url: http://prometheus:9090
  query: sum(rate(http_requests_total[1m]))
horizon: 48
frequency: 15min
full-fit: true
interval: 10m
engine: chronos
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENGINE", "chronos2")

	cfg, err := parse(t, "-config-file", path, "-horizon", "12")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Name != "from-file" || cfg.Adapter != "prometheus" {
		t.Errorf("name = %s, adapter = %s", cfg.Name, cfg.Adapter)
	}
	if cfg.Horizon != 12 {
		t.Errorf("Horizon = %d, flag should win over file", cfg.Horizon)
	}
	if cfg.Engine != "chronos2" {
		t.Errorf("Engine = %s, environment should win over file", cfg.Engine)
	}
	if cfg.Frequency != "15min" || !cfg.FullFit || cfg.Interval != 10*time.Minute {
		t.Errorf("frequency = %s, fullFit = %v, interval = %v", cfg.Frequency, cfg.FullFit, cfg.Interval)
	}
	if cfg.AdapterConfig["url"] != "http://prometheus:9090" || cfg.AdapterConfig["query"] == "" {
		t.Errorf("AdapterConfig = %v", cfg.AdapterConfig)
	}
}

func TestParse_ConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("name: x\nreplicas: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := parse(t, "-config-file", unknown); err == nil || !strings.Contains(err.Error(), `unknown key "replicas"`) {
		t.Errorf("unknown key: error = %v", err)
	}
	if _, err := parse(t, "-config-file", filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestParseAdapterConfig(t *testing.T) {
	got := parseAdapterConfig([]string{
		"ADAPTER=prometheus",
		"ADAPTER_QUERY=up",
		"ADAPTER_SERIES_LABEL=instance",
		"ADAPTER_URL=http://x=y",
		"HOME=/root",
	})
	want := map[string]string{"query": "up", "seriesLabel": "instance", "url": "http://x=y"}
	if len(got) != len(want) {
		t.Fatalf("parseAdapterConfig() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("model-tls-ca-file"); got != "MODEL_TLS_CA_FILE" {
		t.Errorf("EnvName() = %s", got)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "many")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BOOL", "1")

	if got := getEnvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %d", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 1); got != 1 {
		t.Errorf("getEnvInt(invalid) = %d, want default", got)
	}
	if got := getEnvInt64("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt64() = %d", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v", got)
	}
	if got := getEnvBool("TEST_BOOL", false); !got {
		t.Error("getEnvBool() = false")
	}
	if got := getEnv("TEST_UNSET_VAR", "fallback"); got != "fallback" {
		t.Errorf("getEnv() = %s", got)
	}
}
