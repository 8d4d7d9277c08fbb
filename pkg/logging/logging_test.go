package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): want %v got %v", in, want, got)
		}
	}
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"debug", "Info", "warn", "error", "off", ""} {
		if err := Validate(ok); err != nil {
			t.Errorf("Validate(%q): %v", ok, err)
		}
	}
	if err := Validate("verbose"); err == nil {
		t.Fatalf("Validate(verbose): expected error")
	}
	if _, err := New(Options{Level: "verbose"}); err == nil {
		t.Fatalf("New(verbose): expected error")
	}
}

func TestNewJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "json", Output: &buf, Component: "server"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("dropped")
	logger.Warn("kept", "user", "alice")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want 1 line got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["msg"] != "kept" || rec["component"] != "server" || rec["user"] != "alice" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNewOff(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "off", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Error("nothing")
	if buf.Len() != 0 {
		t.Fatalf("off logger wrote %q", buf.String())
	}
}
