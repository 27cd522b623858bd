package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/clawboard/internal/invoke"
	"github.com/basket/clawboard/internal/otel"
)

type DockerConfig struct {
	Image    string `yaml:"image"`
	MemoryMB int64  `yaml:"memory_mb"`
	Network  string `yaml:"network"`
}

// LLMConfig configures the genkit adapter.
type LLMConfig struct {
	// Provider names the model provider: "google", "anthropic", "openai",
	// "openrouter", "openai_compatible".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`

	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"` // provider name for model prefix
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"` // e.g. https://api.openai.com/v1
}

// RuntimeConfig selects how agent turns are executed.
type RuntimeConfig struct {
	Adapter           string       `yaml:"adapter"` // cli, docker, genkit
	OpenClawBin       string       `yaml:"openclaw_bin"`
	GatewayURL        string       `yaml:"gateway_url"`
	GatewayToken      string       `yaml:"gateway_token"`
	OpenClawWorkspace string       `yaml:"openclaw_workspace"`
	TimeoutSeconds    int          `yaml:"timeout_seconds"`
	Profile           string       `yaml:"profile"`
	Docker            DockerConfig `yaml:"docker"`
	LLM               LLMConfig    `yaml:"llm"`
}

type TelegramConfig struct {
	Token   string `yaml:"token"`
	Enabled bool   `yaml:"enabled"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	WorkerCount         int    `yaml:"worker_count"`
	PollIntervalMS      int    `yaml:"poll_interval_ms"`
	DrainTimeoutSeconds int    `yaml:"drain_timeout_seconds"`
	LogLevel            string `yaml:"log_level"`

	// Task retry policy, also applied to the job queue.
	RetryDelaySeconds int `yaml:"retry_delay_seconds"`
	MaxAttempts       int `yaml:"max_attempts"`

	Runtime RuntimeConfig `yaml:"runtime"`

	AgentWorkspaceDir   string `yaml:"agent_workspace_dir"`
	ContextMaxChars     int    `yaml:"context_max_chars"`
	MemoContextMaxChars int    `yaml:"memo_context_max_chars"`

	Telegram TelegramConfig `yaml:"telegram"`
	OTel     otel.Config    `yaml:"otel"`

	// NeedsInit is set when no config.yaml existed at load time.
	NeedsInit bool `yaml:"-"`
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// InvokeOptions maps the runtime section onto the adapter options.
func (c Config) InvokeOptions() invoke.Options {
	rt := c.Runtime
	return invoke.Options{
		Adapter: rt.Adapter,
		CLI: invoke.CLIConfig{
			Bin:                   rt.OpenClawBin,
			Profile:               rt.Profile,
			GatewayURL:            rt.GatewayURL,
			GatewayToken:          rt.GatewayToken,
			DefaultTimeoutSeconds: rt.TimeoutSeconds,
		},
		Docker: invoke.DockerConfig{
			Image:                 rt.Docker.Image,
			Bin:                   rt.OpenClawBin,
			Profile:               rt.Profile,
			MemoryMB:              rt.Docker.MemoryMB,
			Network:               rt.Docker.Network,
			Workspace:             ExpandHome(rt.OpenClawWorkspace),
			GatewayURL:            rt.GatewayURL,
			GatewayToken:          rt.GatewayToken,
			DefaultTimeoutSeconds: rt.TimeoutSeconds,
		},
		Genkit: invoke.GenkitConfig{
			Provider:                 rt.LLM.Provider,
			Model:                    rt.LLM.Model,
			APIKey:                   rt.LLM.APIKey,
			OpenAICompatibleProvider: rt.LLM.OpenAICompatibleProvider,
			OpenAICompatibleBaseURL:  rt.LLM.OpenAICompatibleBaseURL,
			DefaultTimeoutSeconds:    rt.TimeoutSeconds,
		},
	}
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func PolicyPath(homeDir string) string {
	return filepath.Join(homeDir, "policy.yaml")
}

func DBPath(homeDir string) string {
	return filepath.Join(homeDir, "clawboard.db")
}

// Fingerprint returns a stable hash of the settings that change behavior.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "workers=%d|poll=%d|log=%s|attempts=%d|delay=%d|adapter=%s|bin=%s|timeout=%d|profile=%s|ctx=%d|memo=%d",
		c.WorkerCount, c.PollIntervalMS, c.LogLevel, c.MaxAttempts, c.RetryDelaySeconds,
		c.Runtime.Adapter, c.Runtime.OpenClawBin, c.Runtime.TimeoutSeconds, c.Runtime.Profile,
		c.ContextMaxChars, c.MemoContextMaxChars)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		WorkerCount:         4,
		PollIntervalMS:      250,
		DrainTimeoutSeconds: 5,
		LogLevel:            "info",
		RetryDelaySeconds:   30,
		MaxAttempts:         2,
		Runtime: RuntimeConfig{
			Adapter:           "cli",
			OpenClawBin:       "openclaw",
			GatewayURL:        "ws://127.0.0.1:18789",
			OpenClawWorkspace: "~/.openclaw/workspace",
			TimeoutSeconds:    120,
			Docker: DockerConfig{
				Image:    "ghcr.io/openclaw/openclaw:latest",
				MemoryMB: 1024,
				Network:  "bridge",
			},
			LLM: LLMConfig{Provider: "google"},
		},
		AgentWorkspaceDir:   ".",
		ContextMaxChars:     12000,
		MemoContextMaxChars: 16000,
		OTel: otel.Config{
			Exporter:    "none",
			Insecure:    true,
			ServiceName: "clawboard",
			SampleRate:  1,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("CLAWBOARD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".clawboard")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads <homeDir>/config.yaml, creating homeDir if needed.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create clawboard home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsInit = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteDefault writes the default config.yaml unless one exists.
func WriteDefault(homeDir string) (bool, error) {
	path := ConfigPath(homeDir)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return false, fmt.Errorf("create clawboard home: %w", err)
	}
	out, err := yaml.Marshal(defaultConfig())
	if err != nil {
		return false, fmt.Errorf("marshal config.yaml: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return false, err
	}
	return true, nil
}

func normalize(cfg *Config) {
	def := defaultConfig()
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = def.PollIntervalMS
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = def.DrainTimeoutSeconds
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.RetryDelaySeconds < 0 {
		cfg.RetryDelaySeconds = 0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	cfg.Runtime.Adapter = strings.ToLower(strings.TrimSpace(cfg.Runtime.Adapter))
	if cfg.Runtime.Adapter == "" {
		cfg.Runtime.Adapter = def.Runtime.Adapter
	}
	if cfg.Runtime.OpenClawBin == "" {
		cfg.Runtime.OpenClawBin = def.Runtime.OpenClawBin
	}
	if cfg.Runtime.TimeoutSeconds <= 0 {
		cfg.Runtime.TimeoutSeconds = def.Runtime.TimeoutSeconds
	}
	// Normalize legacy provider name.
	if cfg.Runtime.LLM.Provider == "gemini" {
		cfg.Runtime.LLM.Provider = "google"
	}
	if strings.TrimSpace(cfg.AgentWorkspaceDir) == "" {
		cfg.AgentWorkspaceDir = def.AgentWorkspaceDir
	}
	if cfg.ContextMaxChars <= 0 {
		cfg.ContextMaxChars = def.ContextMaxChars
	}
	if cfg.MemoContextMaxChars <= 0 {
		cfg.MemoContextMaxChars = def.MemoContextMaxChars
	}
}

func validate(cfg Config) error {
	switch cfg.Runtime.Adapter {
	case "cli", "docker", "genkit":
	default:
		return fmt.Errorf("runtime.adapter: unknown adapter %q", cfg.Runtime.Adapter)
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram.enabled requires telegram.token (or TELEGRAM_TOKEN)")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	envInt("CLAWBOARD_WORKER_COUNT", &cfg.WorkerCount)
	envInt("CLAWBOARD_POLL_INTERVAL_MS", &cfg.PollIntervalMS)
	envInt("CLAWBOARD_DRAIN_TIMEOUT_SECONDS", &cfg.DrainTimeoutSeconds)
	envInt("CLAWBOARD_RETRY_DELAY_SECONDS", &cfg.RetryDelaySeconds)
	envInt("CLAWBOARD_MAX_ATTEMPTS", &cfg.MaxAttempts)
	envInt("CLAWBOARD_CONTEXT_MAX_CHARS", &cfg.ContextMaxChars)
	envInt("CLAWBOARD_MEMO_CONTEXT_MAX_CHARS", &cfg.MemoContextMaxChars)
	envString("CLAWBOARD_LOG_LEVEL", &cfg.LogLevel)
	envString("CLAWBOARD_RUNTIME_ADAPTER", &cfg.Runtime.Adapter)
	envString("CLAWBOARD_AGENT_WORKSPACE_DIR", &cfg.AgentWorkspaceDir)

	envString("OPENCLAW_BIN", &cfg.Runtime.OpenClawBin)
	envString("OPENCLAW_GATEWAY_URL", &cfg.Runtime.GatewayURL)
	envString("OPENCLAW_GATEWAY_TOKEN", &cfg.Runtime.GatewayToken)
	envString("OPENCLAW_WORKSPACE", &cfg.Runtime.OpenClawWorkspace)
	envString("OPENCLAW_PROFILE", &cfg.Runtime.Profile)
	envInt("OPENCLAW_TIMEOUT", &cfg.Runtime.TimeoutSeconds)

	envString("TELEGRAM_TOKEN", &cfg.Telegram.Token)
	if cfg.Runtime.LLM.APIKey == "" {
		cfg.Runtime.LLM.APIKey = providerAPIKeyFromEnv(cfg.Runtime.LLM.Provider)
	}
}

// providerAPIKeyFromEnv returns the API key for the given provider from the
// conventional environment variable.
func providerAPIKeyFromEnv(provider string) string {
	envMap := map[string]string{
		"google":            "GEMINI_API_KEY",
		"gemini":            "GEMINI_API_KEY",
		"anthropic":         "ANTHROPIC_API_KEY",
		"openai":            "OPENAI_API_KEY",
		"openai_compatible": "OPENAI_API_KEY",
		"openrouter":        "OPENROUTER_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		return os.Getenv(envVar)
	}
	return ""
}

func envString(name string, dst *string) {
	if raw := os.Getenv(name); raw != "" {
		*dst = raw
	}
}

func envInt(name string, dst *int) {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			*dst = v
		}
	}
}
