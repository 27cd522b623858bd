package invoke

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerConfig configures the containerized adapter.
type DockerConfig struct {
	Image                 string
	Bin                   string
	Profile               string
	MemoryMB              int64
	Network               string
	Workspace             string
	GatewayURL            string
	GatewayToken          string
	DefaultTimeoutSeconds int
}

// DockerAdapter runs each turn in an ephemeral container.
type DockerAdapter struct {
	client *client.Client
	cfg    DockerConfig
	logger *slog.Logger
}

// NewDockerAdapter connects to the engine from the environment.
func NewDockerAdapter(cfg DockerConfig, logger *slog.Logger) (*DockerAdapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if cfg.Image == "" {
		cfg.Image = "ghcr.io/openclaw/openclaw:latest"
	}
	if cfg.Bin == "" {
		cfg.Bin = "openclaw"
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = 1024
	}
	// The runtime talks to its model provider, so unlike a shell sandbox the
	// default network is not "none".
	if cfg.Network == "" {
		cfg.Network = "bridge"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerAdapter{client: cli, cfg: cfg, logger: logger}, nil
}

func (d *DockerAdapter) Name() string { return "docker" }

func (d *DockerAdapter) Invoke(ctx context.Context, req Request) Result {
	req = req.withDefaults(d.cfg.DefaultTimeoutSeconds)
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds+hardCeilingSlack)*time.Second)
	defer cancel()

	workspace := req.WorkspaceDir
	if workspace == "" {
		workspace = d.cfg.Workspace
	}
	hostCfg := &container.HostConfig{
		Resources:   container.Resources{Memory: d.cfg.MemoryMB * 1024 * 1024},
		NetworkMode: container.NetworkMode(d.cfg.Network),
	}
	if workspace != "" {
		hostCfg.Binds = []string{fmt.Sprintf("%s:/workspace", workspace)}
	}
	var env []string
	if d.cfg.GatewayURL != "" {
		env = append(env, "OPENCLAW_GATEWAY_URL="+d.cfg.GatewayURL)
	}
	if d.cfg.GatewayToken != "" {
		env = append(env, "OPENCLAW_GATEWAY_TOKEN="+d.cfg.GatewayToken)
	}

	resp, err := d.client.ContainerCreate(runCtx, &container.Config{
		Image:      d.cfg.Image,
		Cmd:        append([]string{d.cfg.Bin}, runtimeArgs(d.cfg.Profile, req)...),
		Env:        env,
		WorkingDir: "/workspace",
		Tty:        false,
	}, hostCfg, nil, nil, "")
	if err != nil {
		return d.engineFailure(ctx, runCtx, req.SessionID, fmt.Errorf("create container: %w", err))
	}
	containerID := resp.ID
	// Removal happens after logs are read, so it cannot use the expired
	// invocation context.
	defer func() {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		if err := d.client.ContainerRemove(rmCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			d.logger.Warn("remove agent container", "container_id", containerID, "error", err)
		}
	}()

	if err := d.client.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return d.engineFailure(ctx, runCtx, req.SessionID, fmt.Errorf("start container: %w", err))
	}

	var exitCode int
	statusCh, errCh := d.client.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return d.engineFailure(ctx, runCtx, req.SessionID, fmt.Errorf("wait container: %w", err))
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-runCtx.Done():
		killCtx, killCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer killCancel()
		_ = d.client.ContainerKill(killCtx, containerID, "SIGKILL")
		if cancelled(ctx) {
			d.logger.Warn("agent container interrupted", "role", req.Role, "session_id", req.SessionID)
			return interruptedResult(req.SessionID, ctx.Err())
		}
		d.logger.Warn("agent container timed out", "role", req.Role, "session_id", req.SessionID)
		return timeoutResult(req.SessionID)
	}

	out, err := d.client.ContainerLogs(runCtx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return d.engineFailure(ctx, runCtx, req.SessionID, fmt.Errorf("get logs: %w", err))
	}
	defer out.Close()
	var stdoutBuf, stderrBuf bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdoutBuf, &stderrBuf, out)

	return processResult(req.SessionID, stdoutBuf.String(), stderrBuf.String(), exitCode)
}

// engineFailure classifies an engine error: a missing image or unreachable
// daemon is a configuration fault, a cancelled caller is an interruption and
// an expired invocation deadline is a timeout.
func (d *DockerAdapter) engineFailure(ctx, runCtx context.Context, sessionID string, err error) Result {
	if cancelled(ctx) {
		return interruptedResult(sessionID, ctx.Err())
	}
	if runCtx.Err() != nil {
		return timeoutResult(sessionID)
	}
	if errdefs.IsNotFound(err) || client.IsErrConnectionFailed(err) {
		d.logger.Error("docker runtime unavailable", "image", d.cfg.Image, "error", err)
		return runtimeMissingResult(sessionID, d.cfg.Image)
	}
	return Result{
		ExitCode:  -1,
		SessionID: sessionID,
		Error:     err.Error(),
		Failure:   FailureTransport,
	}
}

// HealthCheck pings the engine.
func (d *DockerAdapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if _, err := d.client.Ping(ctx); err != nil {
		d.logger.Debug("docker health check failed", "error", err)
		return false
	}
	return true
}

func (d *DockerAdapter) Close() error {
	return d.client.Close()
}
