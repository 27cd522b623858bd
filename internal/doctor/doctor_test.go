package doctor

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/fatih/color"

	"github.com/basket/clawboard/internal/config"
	"github.com/basket/clawboard/internal/invoke"
)

type stubClient struct{ healthy bool }

func (s stubClient) Invoke(context.Context, invoke.Request) invoke.Result { return invoke.Result{} }
func (s stubClient) HealthCheck(context.Context) bool                   { return s.healthy }
func (s stubClient) Name() string                                       { return "cli" }

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return &cfg
}

func TestRun_HealthyRuntime(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Runtime.GatewayURL = ""
	d := Run(context.Background(), cfg, stubClient{healthy: true}, "test")

	want := map[string]string{
		"Config":      StatusWarn,
		"Database":    StatusPass,
		"Permissions": StatusPass,
		"Runtime":     StatusPass,
		"Gateway":     StatusSkip,
		"Telegram":    StatusSkip,
		"Network":     StatusSkip,
	}
	if len(d.Results) != len(want) {
		t.Fatalf("results = %+v", d.Results)
	}
	for _, r := range d.Results {
		if want[r.Name] != r.Status {
			t.Errorf("%s: status %s, want %s (%s)", r.Name, r.Status, want[r.Name], r.Message)
		}
	}
	if !d.Healthy() {
		t.Fatal("expected healthy diagnosis")
	}
}

func TestRun_UnhealthyRuntime(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Runtime.GatewayURL = ""
	d := Run(context.Background(), cfg, stubClient{healthy: false}, "test")
	if d.Healthy() {
		t.Fatal("expected unhealthy diagnosis")
	}
	for _, r := range d.Results {
		if r.Name == "Runtime" && !strings.Contains(r.Detail, "openclaw") {
			t.Fatalf("expected a PATH hint, got %q", r.Detail)
		}
	}

	if res := checkRuntime(context.Background(), cfg, nil); res.Status != StatusFail {
		t.Fatalf("nil client: %+v", res)
	}
}

func TestCheckTelegram(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telegram.Enabled = true
	if res := checkTelegram(cfg); res.Status != StatusFail {
		t.Fatalf("expected FAIL without token, got %s", res.Status)
	}
	cfg.Telegram.Token = "123:abc"
	if res := checkTelegram(cfg); res.Status != StatusPass {
		t.Fatalf("expected PASS, got %s", res.Status)
	}
}

func TestCheckNetwork_SkippedForCLI(t *testing.T) {
	cfg := &config.Config{}
	cfg.Runtime.Adapter = "cli"
	if res := checkNetwork(context.Background(), cfg); res.Status != StatusSkip {
		t.Fatalf("expected SKIP, got %s", res.Status)
	}
	if res := checkNetwork(context.Background(), nil); res.Status != StatusSkip {
		t.Fatalf("expected SKIP for nil config, got %s", res.Status)
	}
}

func TestCheckNetwork_GenkitProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Runtime.Adapter = "genkit"
	cfg.Runtime.LLM.Provider = "anthropic"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := checkNetwork(ctx, cfg)
	if result.Name != "Network" {
		t.Fatalf("expected name Network, got %s", result.Name)
	}
	// Offline environments fail the lookup.
	if result.Status != StatusPass && result.Status != StatusFail {
		t.Fatalf("expected PASS or FAIL, got %s", result.Status)
	}
	if result.Status == StatusPass && !strings.Contains(result.Message, "api.anthropic.com") {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestPrint(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	Print(&buf, Diagnosis{
		System: SystemInfo{Version: "v1", OS: "linux", Arch: "amd64", Go: "go1.24"},
		Results: []CheckResult{
			{Name: "Runtime", Status: StatusFail, Message: "cli adapter health check failed", Detail: "Is it on PATH?"},
		},
	})
	out := buf.String()
	if !strings.Contains(out, "[FAIL] Runtime") || !strings.Contains(out, "Is it on PATH?") {
		t.Fatalf("output = %q", out)
	}
}

func TestCheckGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.Read(r.Context())
		_ = conn.CloseNow()
	}))
	defer srv.Close()

	cfg := loadConfig(t)
	cfg.Runtime.GatewayURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	if res := checkGateway(context.Background(), cfg); res.Status != StatusPass {
		t.Fatalf("reachable gateway: %+v", res)
	}

	down := httptest.NewServer(http.NotFoundHandler())
	cfg.Runtime.GatewayURL = "ws" + strings.TrimPrefix(down.URL, "http")
	down.Close()
	if res := checkGateway(context.Background(), cfg); res.Status != StatusWarn || res.Detail == "" {
		t.Fatalf("unreachable gateway: %+v", res)
	}

	cfg.Runtime.Adapter = "genkit"
	if res := checkGateway(context.Background(), cfg); res.Status != StatusSkip {
		t.Fatalf("genkit adapter: %+v", res)
	}
}
