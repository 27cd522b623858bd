package invoke

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeRuntime installs a fake runtime script and returns its path.
func writeRuntime(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "openclaw")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake runtime: %v", err)
	}
	return path
}

func TestCLIAdapter_Success(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	t.Setenv("FAKE_ARGS_FILE", argsFile)
	bin := writeRuntime(t, `printf '%s\n' "$@" > "$FAKE_ARGS_FILE"
echo '{"payloads":[{"text":"hello"}],"meta":{"k":1}}'`)

	a := NewCLIAdapter(CLIConfig{Bin: bin, Profile: "team"}, nil)
	res := a.Invoke(context.Background(), Request{Role: "pm", Instruction: "plan", SessionID: "sess-1", TimeoutSeconds: 10})
	if !res.Success || res.Output != "hello" || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.SessionID != "sess-1" {
		t.Fatalf("session id = %q", res.SessionID)
	}
	if len(res.ToolLogs) != 1 || res.ToolLogs[0]["type"] != "openclaw_meta" {
		t.Fatalf("tool logs = %v", res.ToolLogs)
	}
	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	args := string(raw)
	for _, want := range []string{"--profile\nteam\nagent\n--message\n[Role: pm]", "--json\n--local\n--session-id\nsess-1\n--timeout\n10\n"} {
		if !strings.Contains(args, want) {
			t.Fatalf("args %q missing %q", args, want)
		}
	}
}

func TestCLIAdapter_NonZeroExit(t *testing.T) {
	bin := writeRuntime(t, `echo partial
echo boom >&2
exit 3`)
	res := NewCLIAdapter(CLIConfig{Bin: bin}, nil).Invoke(context.Background(), Request{Role: "pm", Instruction: "x"})
	if res.Success || res.ExitCode != 3 || res.Output != "partial" || res.Error != "boom" || res.Failure != FailureExit {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCLIAdapter_BinaryMissing(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "missing-openclaw")
	res := NewCLIAdapter(CLIConfig{Bin: bin}, nil).Invoke(context.Background(), Request{Role: "pm", Instruction: "x"})
	if res.Success || res.ExitCode != -1 || !res.ConfigurationFault() {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Error != "OpenClaw binary not found at '"+bin+"'" {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestCLIAdapter_Timeout(t *testing.T) {
	bin := writeRuntime(t, `exec sleep 5`)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	res := NewCLIAdapter(CLIConfig{Bin: bin}, nil).Invoke(ctx, Request{Role: "pm", Instruction: "x"})
	if res.Success || res.ExitCode != -1 || !strings.Contains(res.Error, "timed out") || res.Failure != FailureTimeout {
		t.Fatalf("unexpected result: %+v", res)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout took %v", time.Since(start))
	}
}

func TestCLIAdapter_CancelledCallerIsInterrupted(t *testing.T) {
	bin := writeRuntime(t, `exec sleep 5`)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	res := NewCLIAdapter(CLIConfig{Bin: bin}, nil).Invoke(ctx, Request{Role: "pm", Instruction: "x"})
	if res.Success || res.Failure != FailureInterrupted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := res.Err(); !errors.Is(err, ErrInterrupted) || errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
}

func TestCLIAdapter_HealthCheck(t *testing.T) {
	healthy := writeRuntime(t, `[ "$1" = "health" ] && [ "$2" = "--json" ] && exit 0
exit 1`)
	if !NewCLIAdapter(CLIConfig{Bin: healthy}, nil).HealthCheck(context.Background()) {
		t.Fatal("expected healthy runtime")
	}
	if NewCLIAdapter(CLIConfig{Bin: filepath.Join(t.TempDir(), "nope")}, nil).HealthCheck(context.Background()) {
		t.Fatal("missing runtime must be unhealthy")
	}
	failing := writeRuntime(t, `exit 1`)
	if NewCLIAdapter(CLIConfig{Bin: failing}, nil).HealthCheck(context.Background()) {
		t.Fatal("failing health command must be unhealthy")
	}
}
