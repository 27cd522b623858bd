package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/clawboard/internal/config"
)

func startWatcher(t *testing.T, homeDir string) *config.Watcher {
	t.Helper()
	w := config.NewWatcher(homeDir, nil)
	w.SetDebounce(50 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	return w
}

func TestWatcher_CoalescesPolicyWrites(t *testing.T) {
	homeDir := t.TempDir()
	policyPath := config.PolicyPath(homeDir)
	if err := os.WriteFile(policyPath, []byte("allow_paths: []\n"), 0o644); err != nil {
		t.Fatalf("write initial policy: %v", err)
	}
	w := startWatcher(t, homeDir)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(policyPath, []byte("allow_paths: [/tmp]\n"), 0o644); err != nil {
			t.Fatalf("write policy: %v", err)
		}
	}

	select {
	case ev := <-w.Events():
		if ev.Kind != config.PolicyFile || filepath.Base(ev.Path) != "policy.yaml" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for policy.yaml event")
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("burst produced a second event: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_SeesConfigCreatedAfterStartAndIgnoresOthers(t *testing.T) {
	homeDir := t.TempDir()
	w := startWatcher(t, homeDir)

	if err := os.WriteFile(filepath.Join(homeDir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	if err := os.WriteFile(config.ConfigPath(homeDir), []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Kind != config.ConfigFile {
			t.Fatalf("event = %+v, want config.yaml", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config.yaml event")
	}
}

func TestWatcher_MissingHomeFails(t *testing.T) {
	w := config.NewWatcher(filepath.Join(t.TempDir(), "absent"), nil)
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected an error for a missing home directory")
	}
}

func TestFileKind_String(t *testing.T) {
	if config.ConfigFile.String() != "config.yaml" || config.PolicyFile.String() != "policy.yaml" {
		t.Fatal("unexpected file kind names")
	}
}
