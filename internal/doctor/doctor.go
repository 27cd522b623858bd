// Package doctor runs the environment checks behind `clawboard doctor`.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fatih/color"

	"github.com/basket/clawboard/internal/config"
	"github.com/basket/clawboard/internal/invoke"
	"github.com/basket/clawboard/internal/persistence"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Healthy reports whether no check failed.
func (d Diagnosis) Healthy() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return false
		}
	}
	return true
}

// Run executes all diagnostic checks. client may be nil when the adapter
// could not be constructed.
func Run(ctx context.Context, cfg *config.Config, client invoke.Client, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	d.Results = append(d.Results,
		checkConfig(cfg),
		checkDatabase(ctx, cfg),
		checkPermissions(cfg),
		checkRuntime(ctx, cfg, client),
		checkGateway(ctx, cfg),
		checkTelegram(cfg),
		checkNetwork(ctx, cfg),
	)
	return d
}

// Print writes one line per check, colored by status.
func Print(w io.Writer, d Diagnosis) {
	fmt.Fprintf(w, "clawboard %s (%s/%s, %s)\n", d.System.Version, d.System.OS, d.System.Arch, d.System.Go)
	for _, r := range d.Results {
		fmt.Fprintf(w, "%s %-12s %s\n", statusColor(r.Status).Sprintf("[%s]", r.Status), r.Name, r.Message)
		if r.Detail != "" {
			fmt.Fprintf(w, "%s %s\n", color.New(color.Faint).Sprint("    └"), r.Detail)
		}
	}
}

func statusColor(status string) *color.Color {
	switch status {
	case StatusPass:
		return color.New(color.FgGreen)
	case StatusFail:
		return color.New(color.FgRed, color.Bold)
	case StatusWarn:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func checkConfig(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	if cfg.NeedsInit {
		return CheckResult{Name: "Config", Status: StatusWarn, Message: "config.yaml missing, using defaults", Detail: "Run `clawboard init` to write one"}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir), Detail: cfg.Fingerprint()}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: StatusSkip, Message: "Config missing"}
	}
	store, err := persistence.Open(config.DBPath(cfg.HomeDir), nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	defer store.Close()

	projects, err := store.ListProjects(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: StatusPass, Message: fmt.Sprintf("Schema valid, %d project(s)", len(projects))}
}

func checkPermissions(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

func checkRuntime(ctx context.Context, cfg *config.Config, client invoke.Client) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Runtime", Status: StatusSkip, Message: "Config missing"}
	}
	if client == nil {
		return CheckResult{Name: "Runtime", Status: StatusFail, Message: fmt.Sprintf("Adapter %q unavailable", cfg.Runtime.Adapter)}
	}
	if !client.HealthCheck(ctx) {
		return CheckResult{
			Name:    "Runtime",
			Status:  StatusFail,
			Message: fmt.Sprintf("%s adapter health check failed", client.Name()),
			Detail:  runtimeHint(cfg),
		}
	}
	return CheckResult{Name: "Runtime", Status: StatusPass, Message: fmt.Sprintf("%s adapter healthy", client.Name())}
}

func runtimeHint(cfg *config.Config) string {
	switch cfg.Runtime.Adapter {
	case "docker":
		return fmt.Sprintf("Is the Docker daemon running? image=%s", cfg.Runtime.Docker.Image)
	case "genkit":
		return fmt.Sprintf("Set runtime.llm.api_key or the %s provider's API key variable", cfg.Runtime.LLM.Provider)
	default:
		return fmt.Sprintf("Is %q on PATH? Override with runtime.openclaw_bin or OPENCLAW_BIN", cfg.Runtime.OpenClawBin)
	}
}

// checkGateway dials the runtime gateway. The runtime can still answer with
// --local when the gateway is down, so a failure only warns.
func checkGateway(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Gateway", Status: StatusSkip, Message: "Config missing"}
	}
	if cfg.Runtime.Adapter == "genkit" {
		return CheckResult{Name: "Gateway", Status: StatusSkip, Message: "Not used by the genkit adapter"}
	}
	url := cfg.Runtime.GatewayURL
	if url == "" {
		return CheckResult{Name: "Gateway", Status: StatusSkip, Message: "runtime.gateway_url not set"}
	}
	latency, err := invoke.DialGateway(ctx, url, cfg.Runtime.GatewayToken)
	if err != nil {
		return CheckResult{
			Name:    "Gateway",
			Status:  StatusWarn,
			Message: "Gateway unreachable",
			Detail:  err.Error(),
		}
	}
	return CheckResult{Name: "Gateway", Status: StatusPass, Message: fmt.Sprintf("WebSocket handshake with %s (%dms)", url, latency.Milliseconds())}
}

func checkTelegram(cfg *config.Config) CheckResult {
	if cfg == nil || !cfg.Telegram.Enabled {
		return CheckResult{Name: "Telegram", Status: StatusSkip, Message: "Memo notifications disabled"}
	}
	if cfg.Telegram.Token == "" {
		return CheckResult{Name: "Telegram", Status: StatusFail, Message: "Enabled without a token"}
	}
	return CheckResult{Name: "Telegram", Status: StatusPass, Message: "Token configured"}
}

// checkNetwork resolves the provider endpoint; only the genkit adapter talks
// to a provider directly.
func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Config missing"}
	}
	if cfg.Runtime.Adapter != "genkit" {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: fmt.Sprintf("Not needed for the %s adapter", cfg.Runtime.Adapter)}
	}

	provider := cfg.Runtime.LLM.Provider
	endpoints := map[string]string{
		"google":            "generativelanguage.googleapis.com",
		"anthropic":         "api.anthropic.com",
		"openai":            "api.openai.com",
		"openrouter":        "openrouter.ai",
		"openai_compatible": "api.openai.com",
	}
	host, ok := endpoints[provider]
	if !ok {
		host = "generativelanguage.googleapis.com"
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  StatusFail,
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("provider=%s, latency=%dms", provider, latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  StatusPass,
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("provider=%s, addresses=%v", provider, addrs),
	}
}
