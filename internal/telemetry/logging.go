// Package telemetry builds the process logger: JSON lines in
// <home>/logs/system.jsonl, optionally mirrored to stdout, with secrets
// redacted before they reach either sink.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/clawboard/internal/shared"
)

const (
	logFileName = "system.jsonl"
	// maxLogBytes triggers a rotation to system.jsonl.1 when the daemon starts.
	maxLogBytes = 20 << 20
	// maxValueChars caps string attributes; agent output can be very long.
	maxValueChars = 4096
)

// LogFile is the open log sink plus the level knob the config watcher turns.
type LogFile struct {
	io.Closer
	level *slog.LevelVar
	path  string
}

// SetLevel changes the minimum level of every logger derived from NewLogger.
func (f *LogFile) SetLevel(level string) {
	f.level.Set(ParseLevel(level))
}

func (f *LogFile) Level() slog.Level {
	return f.level.Level()
}

func (f *LogFile) Path() string {
	return f.path
}

func NewLogger(homeDir, level string, quiet bool) (*slog.Logger, *LogFile, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}
	path := filepath.Join(logDir, logFileName)
	if err := rotate(path, maxLogBytes); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	lvl := new(slog.LevelVar)
	lvl.Set(ParseLevel(level))
	var w io.Writer = file
	if !quiet {
		w = io.MultiWriter(os.Stdout, file)
	}
	return newLogger(w, lvl), &LogFile{Closer: file, level: lvl, path: path}, nil
}

func newLogger(w io.Writer, lvl slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: replaceAttr,
	})
	return slog.New(contextHandler{handler}).With("component", "clawboard")
}

// rotate moves path aside to path.1 when it has grown past limit.
func rotate(path string, limit int64) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() < limit {
		return nil
	}
	if err := os.Rename(path, path+".1"); err != nil {
		return fmt.Errorf("rotate %s: %w", filepath.Base(path), err)
	}
	return nil
}

// contextHandler stamps every record with the trace id carried by ctx, or
// "-" when there is none.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String("trace_id", shared.TraceID(ctx)))
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "timestamp"
		return a
	}
	if shared.SensitiveKey(a.Key) {
		return slog.String(a.Key, shared.RedactedPlaceholder)
	}
	if a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	lower := strings.ToLower(v)
	if strings.Contains(lower, "authorization:") || strings.Contains(lower, "bearer ") {
		return slog.String(a.Key, shared.RedactedPlaceholder)
	}
	redacted := shared.Redact(v)
	if len(redacted) > maxValueChars {
		kept := shared.Truncate(redacted, maxValueChars)
		redacted = kept + fmt.Sprintf("…(+%d bytes)", len(redacted)-len(kept))
	}
	if redacted != v {
		return slog.String(a.Key, redacted)
	}
	return a
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
