package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileKind identifies which hot-reloadable file changed.
type FileKind int

const (
	ConfigFile FileKind = iota + 1
	PolicyFile
)

func (k FileKind) String() string {
	switch k {
	case ConfigFile:
		return "config.yaml"
	case PolicyFile:
		return "policy.yaml"
	default:
		return "unknown"
	}
}

type ReloadEvent struct {
	Kind FileKind
	Path string
	Op   fsnotify.Op
}

const defaultDebounce = 200 * time.Millisecond

// Watcher reports changes to config.yaml and policy.yaml. It watches the home
// directory rather than the files so that atomic saves (write temp, rename
// over) and files created after startup are seen. Bursts of writes to one
// file collapse into a single event once the file has been quiet for the
// debounce window.
type Watcher struct {
	homeDir  string
	logger   *slog.Logger
	debounce time.Duration
	events   chan ReloadEvent
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir:  homeDir,
		logger:   logger,
		debounce: defaultDebounce,
		events:   make(chan ReloadEvent, 4),
	}
}

// SetDebounce overrides the quiet period. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Events is closed when the watcher stops.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func kindOf(path string) FileKind {
	switch filepath.Base(path) {
	case "config.yaml":
		return ConfigFile
	case "policy.yaml":
		return PolicyFile
	default:
		return 0
	}
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.homeDir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.homeDir, err)
	}
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	defer close(w.events)

	pending := map[FileKind]ReloadEvent{}
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			kind := kindOf(ev.Name)
			if kind == 0 || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending[kind] = ReloadEvent{Kind: kind, Path: ev.Name, Op: ev.Op}
			fire = time.After(w.debounce)
		case <-fire:
			fire = nil
			for _, kind := range []FileKind{ConfigFile, PolicyFile} {
				ev, ok := pending[kind]
				if !ok {
					continue
				}
				delete(pending, kind)
				w.logger.Info("config file changed", "file", kind.String(), "op", ev.Op.String())
				select {
				case w.events <- ev:
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}
