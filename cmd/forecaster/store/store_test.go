package store

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/HatiCode/chronocast/cmd/forecaster/config"
	"github.com/HatiCode/chronocast/pkg/storage"
)

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		cfg     config.Config
		wantErr string
	}{
		{name: "memory", cfg: config.Config{Storage: "memory"}},
		{name: "default", cfg: config.Config{}},
		{name: "unknown", cfg: config.Config{Storage: "etcd"}, wantErr: "unknown storage backend"},
		{name: "redis without address", cfg: config.Config{Storage: "redis"}, wantErr: "create redis store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(context.Background(), &tt.cfg, logger)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("New() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if _, ok := s.(*storage.MemoryStore); !ok {
				t.Errorf("New() = %T, want *storage.MemoryStore", s)
			}
		})
	}
}
