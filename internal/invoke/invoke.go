// Package invoke runs one agent turn against the external agent runtime and
// normalizes whatever the runtime printed into a Result.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultToolProfile    = "full"
	DefaultTimeoutSeconds = 120

	// hardCeilingSlack is added to the requested timeout to form the
	// deadline the adapter enforces on its own side.
	hardCeilingSlack = 30
)

var (
	// ErrRuntimeMissing marks a configuration fault: the runtime binary,
	// container engine or provider is not available. It is never retried.
	ErrRuntimeMissing = errors.New("agent runtime not available")
	ErrTimeout        = errors.New("agent invocation timed out")
	ErrUnsuccessful   = errors.New("agent invocation unsuccessful")
	// ErrInterrupted means the caller's context ended before the runtime
	// answered. The task outcome is unknown.
	ErrInterrupted = errors.New("agent invocation interrupted")
)

// FailureKind classifies an unsuccessful Result.
type FailureKind string

const (
	FailureNone           FailureKind = ""
	FailureTimeout        FailureKind = "timeout"
	FailureRuntimeMissing FailureKind = "runtime_missing"
	FailureExit           FailureKind = "exit"
	FailureTransport      FailureKind = "transport"
	FailureInterrupted    FailureKind = "interrupted"
)

// Request is one role+instruction turn.
type Request struct {
	Role           string
	Instruction    string
	Context        string
	SessionID      string
	ToolProfile    string
	ToolAllow      []string
	ToolDeny       []string
	Model          string
	TimeoutSeconds int
	WorkspaceDir   string
	ExtraConfig    map[string]any
}

// Result is the normalized outcome of an invocation. Failures are reported
// in the Result, never as a Go error.
type Result struct {
	Output    string
	RawStdout string
	RawStderr string
	ExitCode  int
	ToolLogs  []map[string]any
	SessionID string
	Success   bool
	Error     string
	Failure   FailureKind
}

// Err maps an unsuccessful Result onto the package sentinels so callers can
// classify it with errors.Is.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	switch r.Failure {
	case FailureRuntimeMissing:
		return fmt.Errorf("%w: %s", ErrRuntimeMissing, r.Error)
	case FailureTimeout:
		return fmt.Errorf("%w: %s", ErrTimeout, r.Error)
	case FailureInterrupted:
		return fmt.Errorf("%w: %s", ErrInterrupted, r.Error)
	default:
		return fmt.Errorf("%w: %s", ErrUnsuccessful, r.Error)
	}
}

// ConfigurationFault reports whether retrying cannot help.
func (r Result) ConfigurationFault() bool {
	return !r.Success && r.Failure == FailureRuntimeMissing
}

// Client is the seam every caller depends on. Adapters are selected by
// configuration and injected.
type Client interface {
	Invoke(ctx context.Context, req Request) Result
	HealthCheck(ctx context.Context) bool
	Name() string
}

// BuildPrompt renders the composite prompt handed to the runtime.
func BuildPrompt(req Request) string {
	parts := []string{fmt.Sprintf("[Role: %s]", req.Role)}
	if req.Context != "" {
		parts = append(parts, "[Context]\n"+req.Context)
	}
	parts = append(parts, "[Instruction]\n"+req.Instruction)
	return strings.Join(parts, "\n\n")
}

// withDefaults fills the fields the runtime cannot do without.
func (req Request) withDefaults(defaultTimeout int) Request {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.ToolProfile == "" {
		req.ToolProfile = DefaultToolProfile
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = defaultTimeout
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return req
}

func timeoutResult(sessionID string) Result {
	return Result{
		ExitCode:  -1,
		SessionID: sessionID,
		Error:     "OpenClaw CLI timed out",
		Failure:   FailureTimeout,
	}
}

// cancelled reports whether the caller gave up, as opposed to a deadline
// running out.
func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func interruptedResult(sessionID string, cause error) Result {
	return Result{
		ExitCode:  -1,
		SessionID: sessionID,
		Error:     "invocation interrupted: " + cause.Error(),
		Failure:   FailureInterrupted,
	}
}

func runtimeMissingResult(sessionID, bin string) Result {
	return Result{
		ExitCode:  -1,
		SessionID: sessionID,
		Error:     fmt.Sprintf("OpenClaw binary not found at '%s'", bin),
		Failure:   FailureRuntimeMissing,
	}
}

// processResult turns a finished runtime process into a Result.
func processResult(sessionID, stdout, stderr string, exitCode int) Result {
	stdout = strings.TrimSpace(stdout)
	stderr = strings.TrimSpace(stderr)
	if exitCode != 0 {
		errText := stderr
		if errText == "" {
			errText = fmt.Sprintf("Process exited with code %d", exitCode)
		}
		return Result{
			Output:    stdout,
			RawStdout: stdout,
			RawStderr: stderr,
			ExitCode:  exitCode,
			SessionID: sessionID,
			Error:     errText,
			Failure:   FailureExit,
		}
	}
	output, toolLogs := ParseOutput(stdout)
	return Result{
		Output:    output,
		RawStdout: stdout,
		RawStderr: stderr,
		ExitCode:  0,
		ToolLogs:  toolLogs,
		SessionID: sessionID,
		Success:   true,
	}
}

// runtimeArgs builds the argument vector shared by the cli and docker
// adapters.
func runtimeArgs(profile string, req Request) []string {
	var args []string
	if profile != "" {
		args = append(args, "--profile", profile)
	}
	args = append(args,
		"agent",
		"--message", BuildPrompt(req),
		"--json",
		"--local",
		"--session-id", req.SessionID,
	)
	if req.TimeoutSeconds > 0 {
		args = append(args, "--timeout", fmt.Sprintf("%d", req.TimeoutSeconds))
	}
	return args
}

func healthArgs(profile string) []string {
	var args []string
	if profile != "" {
		args = append(args, "--profile", profile)
	}
	return append(args, "health", "--json")
}
