package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}

		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer

	log, err := New(&Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	log.Info("dropped")
	log.Warn("kept", slog.String("package", "logger"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}

	if rec["msg"] != "kept" || rec["package"] != "logger" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNewNilOptions(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil options")
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer

	log, err := New(&Options{Level: "debug", Format: "TEXT", Writer: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	log.Debug("probe", slog.String("stage", "streaming"))

	if got := buf.String(); !strings.Contains(got, "msg=probe") || !strings.Contains(got, "stage=streaming") {
		t.Fatalf("unexpected text record %q", got)
	}
}

func TestNewUnknownFormatFallsBack(t *testing.T) {
	var buf bytes.Buffer

	log, err := New(&Options{Format: "yaml", Writer: &buf})
	if err == nil {
		t.Fatal("expected error for unknown format")
	}

	log.Info("still logs")

	if !json.Valid(buf.Bytes()) {
		t.Fatalf("fallback is not JSON: %q", buf.String())
	}
}
