package invoke

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

const (
	healthTimeout = 15 * time.Second
	// waitDelay bounds how long Run waits for output pipes held open by
	// grandchildren after the runtime process is killed.
	waitDelay = 5 * time.Second
)

// CLIConfig configures the local-process adapter.
type CLIConfig struct {
	Bin                   string
	Profile               string
	GatewayURL            string
	GatewayToken          string
	DefaultTimeoutSeconds int
}

// CLIAdapter runs the agent runtime as a child process per turn.
type CLIAdapter struct {
	cfg    CLIConfig
	logger *slog.Logger
}

func NewCLIAdapter(cfg CLIConfig, logger *slog.Logger) *CLIAdapter {
	if cfg.Bin == "" {
		cfg.Bin = "openclaw"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIAdapter{cfg: cfg, logger: logger}
}

func (a *CLIAdapter) Name() string { return "cli" }

func (a *CLIAdapter) Invoke(ctx context.Context, req Request) Result {
	req = req.withDefaults(a.cfg.DefaultTimeoutSeconds)
	args := runtimeArgs(a.cfg.Profile, req)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds+hardCeilingSlack)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, a.cfg.Bin, args...)
	cmd.Env = a.env()
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	a.logger.Debug("invoking agent runtime", "role", req.Role, "session_id", req.SessionID, "timeout_s", req.TimeoutSeconds)
	err := cmd.Run()
	if err == nil {
		return processResult(req.SessionID, stdout.String(), stderr.String(), 0)
	}
	if cancelled(ctx) {
		a.logger.Warn("agent runtime interrupted", "role", req.Role, "session_id", req.SessionID)
		return interruptedResult(req.SessionID, ctx.Err())
	}
	if runCtx.Err() != nil {
		a.logger.Warn("agent runtime timed out", "role", req.Role, "session_id", req.SessionID)
		return timeoutResult(req.SessionID)
	}
	if isNotFound(err) {
		return runtimeMissingResult(req.SessionID, a.cfg.Bin)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return processResult(req.SessionID, stdout.String(), stderr.String(), exitErr.ExitCode())
	}
	return Result{
		ExitCode:  -1,
		SessionID: req.SessionID,
		Error:     err.Error(),
		Failure:   FailureTransport,
	}
}

// HealthCheck runs `health --json`; any failure reads as unhealthy.
func (a *CLIAdapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, a.cfg.Bin, healthArgs(a.cfg.Profile)...)
	cmd.Env = a.env()
	if err := cmd.Run(); err != nil {
		a.logger.Debug("agent runtime health check failed", "bin", a.cfg.Bin, "error", err)
		return false
	}
	return true
}

func (a *CLIAdapter) env() []string {
	env := os.Environ()
	if a.cfg.GatewayURL != "" {
		env = append(env, "OPENCLAW_GATEWAY_URL="+a.cfg.GatewayURL)
	}
	if a.cfg.GatewayToken != "" {
		env = append(env, "OPENCLAW_GATEWAY_TOKEN="+a.cfg.GatewayToken)
	}
	return env
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
