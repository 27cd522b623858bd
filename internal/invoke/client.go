package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/clawboard/internal/otel"
	"github.com/basket/clawboard/internal/safety"
)

// Options selects and configures one adapter.
type Options struct {
	Adapter string // cli (default), docker, genkit
	CLI     CLIConfig
	Docker  DockerConfig
	Genkit  GenkitConfig
}

// New constructs the configured adapter.
func New(ctx context.Context, opts Options, logger *slog.Logger) (Client, error) {
	switch opts.Adapter {
	case "", "cli":
		return NewCLIAdapter(opts.CLI, logger), nil
	case "docker":
		return NewDockerAdapter(opts.Docker, logger)
	case "genkit":
		return NewGenkitAdapter(ctx, opts.Genkit, logger), nil
	default:
		return nil, fmt.Errorf("unknown runtime adapter %q", opts.Adapter)
	}
}

// Instrumented wraps a Client with a client span, duration and failure
// metrics, and a leak scan of the returned output.
type Instrumented struct {
	next   Client
	inst   *otel.Instruments
	leaks  *safety.LeakDetector
	logger *slog.Logger
}

func Instrument(next Client, inst *otel.Instruments, logger *slog.Logger) *Instrumented {
	if inst == nil {
		inst = otel.NoopInstruments()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Instrumented{next: next, inst: inst, leaks: safety.NewLeakDetector(), logger: logger}
}

func (c *Instrumented) Name() string { return c.next.Name() }

func (c *Instrumented) Invoke(ctx context.Context, req Request) Result {
	adapter := c.next.Name()
	ctx, span := otel.StartClientSpan(ctx, c.inst.Tracer, "invoke."+adapter,
		otel.AttrAdapter.String(adapter),
		otel.AttrRole.String(req.Role),
		otel.AttrModel.String(req.Model),
	)
	start := time.Now()
	res := c.next.Invoke(ctx, req)
	elapsed := time.Since(start).Seconds()

	outcome := "success"
	if !res.Success {
		outcome = string(res.Failure)
	}
	attrs := metric.WithAttributes(
		attribute.String("adapter", adapter),
		attribute.String("role", req.Role),
		attribute.String("outcome", outcome),
	)
	c.inst.Metrics.InvokeDuration.Record(ctx, elapsed, attrs)
	span.SetAttributes(otel.AttrSessionID.String(res.SessionID), otel.AttrOutcome.String(outcome))
	if !res.Success {
		c.inst.Metrics.InvokeFailures.Add(ctx, 1, attrs)
		c.logger.Warn("agent invocation unsuccessful",
			"role", req.Role, "adapter", adapter, "exit_code", res.ExitCode, "failure", outcome, "error", res.Error)
	}
	if findings := c.leaks.Scan(res.Output); len(findings) > 0 {
		c.logger.Warn("leak detector triggered on agent output",
			"role", req.Role, "session_id", res.SessionID, "findings_count", len(findings), "first_pattern", findings[0].Pattern)
	}
	otel.EndSpan(span, res.Err())
	return res
}

func (c *Instrumented) HealthCheck(ctx context.Context) bool {
	return c.next.HealthCheck(ctx)
}
