// Command runtime_smoke runs one real agent turn through the configured
// runtime adapter and checks the gateway on the way. It prints CHECK lines
// and ends with VERDICT PASS, or exits non-zero at the first failed step.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/clawboard/internal/config"
	"github.com/basket/clawboard/internal/invoke"
)

func main() {
	role := flag.String("role", "pm", "agent role to address")
	message := flag.String("message", "Reply with the single word READY.", "instruction for the agent")
	timeout := flag.Duration("timeout", 3*time.Minute, "overall timeout")
	skipGateway := flag.Bool("skip-gateway", false, "do not dial the runtime gateway")
	verbose := flag.Bool("v", false, "log adapter activity to stderr")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *skipGateway || cfg.Runtime.Adapter == "genkit" || cfg.Runtime.GatewayURL == "" {
		fmt.Println("CHECK gateway skipped")
	} else {
		latency, err := invoke.DialGateway(ctx, cfg.Runtime.GatewayURL, cfg.Runtime.GatewayToken)
		if err != nil {
			fatal("gateway", err)
		}
		fmt.Printf("CHECK gateway ok url=%s latency_ms=%d\n", cfg.Runtime.GatewayURL, latency.Milliseconds())
	}

	client, err := invoke.New(ctx, cfg.InvokeOptions(), logger)
	if err != nil {
		fatal("runtime adapter", err)
	}
	if !client.HealthCheck(ctx) {
		fatalf("runtime adapter %s failed its health check", cfg.Runtime.Adapter)
	}
	fmt.Printf("CHECK runtime healthy adapter=%s\n", cfg.Runtime.Adapter)

	sessionID := uuid.NewString()
	res := client.Invoke(ctx, invoke.Request{
		Role:           *role,
		Instruction:    *message,
		SessionID:      sessionID,
		TimeoutSeconds: int(timeout.Seconds()),
	})
	if err := checkReply(res); err != nil {
		fatal("agent turn", err)
	}
	fmt.Printf("CHECK agent replied session_id=%s chars=%d tool_logs=%d\n", res.SessionID, len(res.Output), len(res.ToolLogs))

	fmt.Println("VERDICT PASS")
}

// checkReply accepts a turn only when it succeeded with visible text.
func checkReply(res invoke.Result) error {
	if err := res.Err(); err != nil {
		if stderr := strings.TrimSpace(res.RawStderr); stderr != "" {
			return fmt.Errorf("%w (stderr: %s)", err, stderr)
		}
		return err
	}
	if strings.TrimSpace(res.Output) == "" {
		return fmt.Errorf("empty reply (exit %d)", res.ExitCode)
	}
	return nil
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
