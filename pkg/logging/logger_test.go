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
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewComponentLogger(New(Options{Level: "info", Output: &buf}), "relay")
	logger.Info("call_started", "stream_sid", "MZ1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["component"] != "relay" || rec["msg"] != "call_started" || rec["stream_sid"] != "MZ1" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestTextFormatAndFileOutput(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "callrelay.log")
	logger := New(Options{Format: "text", Output: &buf, File: FileOptions{Path: path, MaxSizeMB: 1}})
	logger.Debug("hidden")
	logger.Warn("ai_closed")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug record should be filtered at info level")
	}
	if !strings.Contains(buf.String(), "msg=ai_closed") {
		t.Fatalf("expected text record, got %q", buf.String())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "ai_closed") {
		t.Fatalf("expected record in rotated file")
	}
}
