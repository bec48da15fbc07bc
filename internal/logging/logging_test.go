package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFanout_RespectsLevels(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	logger := slog.New(Fanout(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	))

	logger.Debug("cart loaded")
	logger.Warn("merge failed")

	if !strings.Contains(debugBuf.String(), "cart loaded") || !strings.Contains(debugBuf.String(), "merge failed") {
		t.Errorf("debug handler got %q", debugBuf.String())
	}
	if strings.Contains(warnBuf.String(), "cart loaded") {
		t.Error("warn handler received a debug record")
	}
	if !strings.Contains(warnBuf.String(), "merge failed") {
		t.Errorf("warn handler got %q", warnBuf.String())
	}
}

func TestFanout_WithAttrsAndGroup(t *testing.T) {
	var a, b bytes.Buffer
	logger := slog.New(Fanout(
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	)).With("component", "cart").WithGroup("req")

	logger.Info("sent", "id", 7)

	for name, buf := range map[string]*bytes.Buffer{"first": &a, "second": &b} {
		out := buf.String()
		if !strings.Contains(out, "component=cart") || !strings.Contains(out, "req.id=7") {
			t.Errorf("%s handler output = %q", name, out)
		}
	}
}

func TestSetup_WritesJSONFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	closer, err := Setup(Options{Dir: dir, File: "test.log", Level: "debug"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	slog.Debug("session ready", "authenticated", false)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "logs", "test.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, data)
	}
	if record["msg"] != "session ready" || record["level"] != "DEBUG" {
		t.Errorf("record = %v", record)
	}
}
