package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/basket/clawboard/internal/roles"
)

// GenkitConfig configures the network-API adapter.
type GenkitConfig struct {
	// Provider is "google", "anthropic", "openai", "openrouter" or
	// "openai_compatible". Empty defaults to "google".
	Provider string
	Model    string
	APIKey   string

	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string

	DefaultTimeoutSeconds int
}

// GenkitAdapter sends the composite prompt straight to a provider model.
// There is no local tool runtime, so tool logs only carry usage metadata.
type GenkitAdapter struct {
	g        *genkit.Genkit
	cfg      GenkitConfig
	provider string
	llmOn    bool
	logger   *slog.Logger
}

// NewGenkitAdapter initializes Genkit with the configured provider plugin.
// A missing key leaves the adapter constructed but unhealthy.
func NewGenkitAdapter(ctx context.Context, cfg GenkitConfig, logger *slog.Logger) *GenkitAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaultModelForProvider(provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	llmOn := apiKey != ""
	switch {
	case !llmOn:
		g = genkit.Init(ctx)
		logger.Warn("LLM API key missing; genkit adapter disabled", "provider", provider)
	case provider == "anthropic":
		g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
			APIKey:  apiKey,
			BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		}))
	case provider == "openai":
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: "openai",
			APIKey:   apiKey,
			BaseURL:  os.Getenv("OPENAI_BASE_URL"),
		}))
	case provider == "openai_compatible":
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: cfg.OpenAICompatibleProvider,
			APIKey:   apiKey,
			BaseURL:  cfg.OpenAICompatibleBaseURL,
		}))
	case provider == "openrouter":
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: "openrouter",
			APIKey:   apiKey,
			BaseURL:  "https://openrouter.ai/api/v1",
		}))
	case provider == "google":
		_ = os.Setenv("GEMINI_API_KEY", apiKey)
		g = genkit.Init(ctx,
			genkit.WithPlugins(&googlegenai.GoogleAI{}),
			genkit.WithDefaultModel("googleai/"+cfg.Model),
		)
	default:
		g = genkit.Init(ctx)
		llmOn = false
		logger.Warn("unknown LLM provider; genkit adapter disabled", "provider", provider)
	}
	if llmOn {
		logger.Info("genkit adapter initialized", "provider", provider, "model", cfg.Model)
	}
	return &GenkitAdapter{g: g, cfg: cfg, provider: provider, llmOn: llmOn, logger: logger}
}

func (a *GenkitAdapter) Name() string { return "genkit" }

func (a *GenkitAdapter) Invoke(ctx context.Context, req Request) Result {
	req = req.withDefaults(a.cfg.DefaultTimeoutSeconds)
	if !a.llmOn {
		return runtimeMissingResult(req.SessionID, "genkit:"+a.provider)
	}
	genCtx, cancel := context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
	defer cancel()

	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	// Escape % characters to prevent fmt.Sprintf corruption in ai.WithSystem().
	system := strings.ReplaceAll(systemPrompt(req), "%", "%%")
	resp, err := genkit.Generate(genCtx, a.g,
		ai.WithModelName(modelNameForProvider(a.provider, model)),
		ai.WithSystem(system),
		ai.WithPrompt(BuildPrompt(req)),
	)
	if err != nil {
		if cancelled(ctx) {
			return interruptedResult(req.SessionID, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) || genCtx.Err() != nil {
			return timeoutResult(req.SessionID)
		}
		return Result{
			ExitCode:  1,
			RawStderr: err.Error(),
			SessionID: req.SessionID,
			Error:     fmt.Sprintf("genkit generate: %v", err),
			Failure:   FailureTransport,
		}
	}

	text := strings.TrimSpace(resp.Text())
	var logs []map[string]any
	if resp.Usage != nil {
		logs = append(logs, map[string]any{
			"type":          "genkit_usage",
			"model":         modelNameForProvider(a.provider, model),
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		})
	}
	return Result{
		Output:    text,
		RawStdout: text,
		ToolLogs:  logs,
		SessionID: req.SessionID,
		Success:   true,
	}
}

// HealthCheck reports whether a provider is configured.
func (a *GenkitAdapter) HealthCheck(context.Context) bool {
	return a.llmOn
}

// systemPrompt prefers a persona carried in the agent config over the
// built-in role profile.
func systemPrompt(req Request) string {
	if persona, ok := req.ExtraConfig["persona"].(string); ok && strings.TrimSpace(persona) != "" {
		return persona
	}
	return roles.Lookup(req.Role).Persona
}

var defaultModels = map[string]string{
	"google":            "gemini-2.5-pro",
	"anthropic":         "claude-sonnet-4-5",
	"openai":            "gpt-4o",
	"openai_compatible": "gpt-4o",
	"openrouter":        "openrouter/auto",
}

func defaultModelForProvider(provider string) string {
	return defaultModels[provider]
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "google", "":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

func modelNameForProvider(provider, model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModelForProvider(provider)
	}
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible", "openrouter":
		return model
	default:
		return "googleai/" + model
	}
}
