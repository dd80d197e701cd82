package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HatiCode/chronocast/cmd/forecaster/config"
	"github.com/HatiCode/chronocast/pkg/adapters"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func dailyCSV(n int) string {
	var b strings.Builder
	b.WriteString("ds,y\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "2024-01-%02d,%d\n", i, 10+2*i)
	}
	return b.String()
}

func onceConfig(dir string) *config.Config {
	return &config.Config{
		Once:          true,
		Engine:        "chronos",
		ModelEndpoint: "local://baseline",
		Device:        "cpu",
		Horizon:       3,
		Frequency:     "D",
		DatetimeCol:   "ds",
		TargetCol:     "y",
		Seed:          config.NoSeed,
		Output:        filepath.Join(dir, "forecast.csv"),
	}
}

func TestRunOnce(t *testing.T) {
	dir := t.TempDir()
	cfg := onceConfig(dir)
	cfg.Input = writeFile(t, dir, "history.csv", dailyCSV(10))

	if err := runOnce(context.Background(), cfg, discard); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}

	f, err := os.Open(cfg.Output)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	out, err := adapters.ReadCSV(f)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if strings.Join(out.Columns, ",") != "ds,y_predicted,lower_bound,upper_bound" {
		t.Errorf("columns = %v", out.Columns)
	}
	if out.Len() != 3 {
		t.Fatalf("rows = %d, want 3", out.Len())
	}
	if !strings.HasPrefix(out.Rows[0]["ds"].(string), "2024-01-11") {
		t.Errorf("first timestamp = %v, want 2024-01-11", out.Rows[0]["ds"])
	}
}

func TestRunOnce_Errors(t *testing.T) {
	dir := t.TempDir()

	missing := onceConfig(dir)
	missing.Input = filepath.Join(dir, "nope.csv")
	if err := runOnce(context.Background(), missing, discard); err == nil {
		t.Error("missing input: expected error")
	}

	wrongCol := onceConfig(dir)
	wrongCol.Input = writeFile(t, dir, "bad.csv", "date,y\n2024-01-01,1\n")
	if err := runOnce(context.Background(), wrongCol, discard); err == nil || !strings.Contains(err.Error(), "ds") {
		t.Errorf("missing column: error = %v", err)
	}

	badEngine := onceConfig(dir)
	badEngine.Engine = "prophet"
	badEngine.Input = writeFile(t, dir, "ok.csv", dailyCSV(5))
	if err := runOnce(context.Background(), badEngine, discard); err == nil {
		t.Error("unknown engine: expected error")
	}
}

func TestWriteOutput_Stdout(t *testing.T) {
	df := adapters.NewDataFrame("ds", "y_predicted")
	df.Append(adapters.Row{"ds": "2024-01-11", "y_predicted": 32.0})

	var buf bytes.Buffer
	if err := writeOutput("-", df, &buf); err != nil {
		t.Fatalf("writeOutput() error = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "ds,y_predicted\n") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestReadCSV_Empty(t *testing.T) {
	df, err := readCSV(context.Background(), "")
	if err != nil || df != nil {
		t.Errorf("readCSV(\"\") = %v, %v, want nil, nil", df, err)
	}
}
