package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "default config",
			cfg: Config{
				Path:   tmpDir,
				Level:  "info",
				Format: "json",
			},
			wantErr: false,
		},
		{
			name: "text format",
			cfg: Config{
				Path:   tmpDir,
				Level:  "debug",
				Format: "text",
			},
			wantErr: false,
		},
		{
			name: "invalid level",
			cfg: Config{
				Path:  tmpDir,
				Level: "invalid",
			},
			wantErr: true,
		},
		{
			name: "no path (stderr only)",
			cfg: Config{
				Level:  "info",
				Format: "json",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && logger != nil {
				_ = logger.Close()
			}
		})
	}
}

func TestLogFileNaming(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := New(Config{Path: tmpDir, Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Info("hello")

	want := filepath.Join(tmpDir, "phasegate-"+time.Now().Format("2006-01-02")+".log")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected log file %s: %v", want, err)
	}
}

func TestWithComponent(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := New(Config{Path: tmpDir, Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer func() { _ = logger.Close() }()

	comp := logger.WithComponent("sequencer")
	comp.InfoCtx("test message", map[string]any{"task_id": "t1"})

	files, err := logger.LogFiles()
	if err != nil {
		t.Fatalf("LogFiles() error: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("LogFiles() = %d files, want 1", len(files))
	}

	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"sequencer"`) {
		t.Errorf("log output missing component field: %s", data)
	}
	if !strings.Contains(string(data), `"task_id":"t1"`) {
		t.Errorf("log output missing context field: %s", data)
	}
}

func TestGetWithoutInit(t *testing.T) {
	// Get must return a usable stderr logger before Init is called.
	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil")
	}
	logger.Debug("no-op")
}
