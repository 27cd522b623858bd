package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/clawboard/internal/shared"
)

func lastEntry(t *testing.T, raw string) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", lines[len(lines)-1], err)
	}
	return entry
}

func TestNewLogger_WritesJSONLinesToHome(t *testing.T) {
	home := t.TempDir()
	logger, file, err := NewLogger(home, "debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer file.Close()

	logger.Info("startup phase", "phase", "config_loaded", "project_id", "proj-1")

	if file.Path() != filepath.Join(home, "logs", "system.jsonl") {
		t.Fatalf("path = %s", file.Path())
	}
	raw, err := os.ReadFile(file.Path())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	entry := lastEntry(t, string(raw))
	for _, key := range []string{"timestamp", "level", "msg", "component", "trace_id"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing key %q in %#v", key, entry)
		}
	}
	if entry["component"] != "clawboard" || entry["trace_id"] != "-" || entry["project_id"] != "proj-1" {
		t.Fatalf("entry = %#v", entry)
	}
}

func TestLogger_TraceIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo).With("job_id", "j1")

	ctx := shared.WithTraceID(context.Background(), "trace-42")
	logger.InfoContext(ctx, "job processing")

	entry := lastEntry(t, buf.String())
	if entry["trace_id"] != "trace-42" || entry["job_id"] != "j1" {
		t.Fatalf("entry = %#v", entry)
	}
	if strings.Count(buf.String(), `"trace_id"`) != 1 {
		t.Fatalf("trace_id written more than once: %s", buf.String())
	}
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo)

	logger.Info("security check",
		"api_key", "abc123",
		"gateway_token", "tok-123",
		"auth_header", "Authorization: Bearer super-secret-token",
		"output", "bot 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsawq ready",
		"title", "Launch beta",
	)

	entry := lastEntry(t, buf.String())
	want := map[string]string{
		"api_key":       "[REDACTED]",
		"gateway_token": "[REDACTED]",
		"auth_header":   "[REDACTED]",
		"output":        "bot [REDACTED] ready",
		"title":         "Launch beta",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %#v, want %q", k, entry[k], v)
		}
	}
}

func TestLogger_TruncatesLongValues(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo)

	logger.Info("agent output", "output", strings.Repeat("x", maxValueChars+100))

	got, _ := lastEntry(t, buf.String())["output"].(string)
	if !strings.HasPrefix(got, strings.Repeat("x", maxValueChars)) || !strings.HasSuffix(got, "(+100 bytes)") {
		t.Fatalf("output tail = %q", got[len(got)-20:])
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.jsonl")
	if err := os.WriteFile(path, []byte(strings.Repeat("a", 64)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := rotate(path, 128); err != nil {
		t.Fatalf("rotate under limit: %v", err)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Fatal("rotated a small file")
	}
	if err := rotate(path, 32); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected rotated file: %v", err)
	}
	if err := rotate(filepath.Join(dir, "missing.jsonl"), 1); err != nil {
		t.Fatalf("missing file: %v", err)
	}
}

func TestLogFile_SetLevel(t *testing.T) {
	home := t.TempDir()
	logger, file, err := NewLogger(home, "warn", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer file.Close()

	logger.Info("hidden")
	file.SetLevel("debug")
	if file.Level() != slog.LevelDebug {
		t.Fatalf("level = %v", file.Level())
	}
	logger.Debug("visible")

	raw, err := os.ReadFile(file.Path())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(raw), "hidden") || !strings.Contains(string(raw), "visible") {
		t.Fatalf("unexpected log contents: %s", raw)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, " WARN ": slog.LevelWarn, "warning": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "loud": slog.LevelInfo} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
