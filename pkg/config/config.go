// Package config loads babysitter settings from viper: config files in
// ~/.babysitter and the working directory, BABYSITTER_* environment variables,
// and bound command line flags.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "BABYSITTER"
	// DirName is the per-user and per-repo configuration directory name.
	DirName = ".babysitter"
)

// Breakpoint approval modes.
const (
	BreakpointInteractive = "interactive"
	BreakpointAuto        = "auto"
	BreakpointDeferred    = "deferred"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`

	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Google    GoogleConfig    `mapstructure:"google"`
	Retry     RetryConfig     `mapstructure:"retry"`

	BasePath    string   `mapstructure:"base_path"`
	DBPath      string   `mapstructure:"db_path"`
	ProcessDirs []string `mapstructure:"process_dirs"`
	SkillDirs   []string `mapstructure:"skill_dirs"`
	AgentDirs   []string `mapstructure:"agent_dirs"`
	CatalogDirs []string `mapstructure:"catalog_dirs"`

	Skills      AllowlistConfig  `mapstructure:"skills"`
	Agents      AllowlistConfig  `mapstructure:"agents"`
	Breakpoints BreakpointConfig `mapstructure:"breakpoints"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
	Server      ServerConfig     `mapstructure:"server"`
}

// AnthropicConfig holds Anthropic provider settings.
type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI-compatible provider settings.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// GoogleConfig holds Gemini / Vertex AI settings.
type GoogleConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Backend  string `mapstructure:"backend"` // gemini or vertexai
	Project  string `mapstructure:"project"`
	Location string `mapstructure:"location"`
}

// RetryConfig controls retries of agent dispatches.
type RetryConfig struct {
	Attempts     int    `mapstructure:"attempts"`
	InitialDelay int    `mapstructure:"initial_delay"` // milliseconds
	MaxDelay     int    `mapstructure:"max_delay"`     // milliseconds
	BackoffType  string `mapstructure:"backoff_type"`  // fixed or exponential
}

// DefaultRetryConfig is applied when no retry attempts are configured.
var DefaultRetryConfig = RetryConfig{
	Attempts:     3,
	InitialDelay: 1000,
	MaxDelay:     10000,
	BackoffType:  "exponential",
}

// AllowlistConfig restricts which catalog entries are loaded. Entries are glob patterns.
type AllowlistConfig struct {
	Allowed []string `mapstructure:"allowed"`
}

// BreakpointConfig selects how breakpoints are decided.
type BreakpointConfig struct {
	Mode string `mapstructure:"mode"`
}

// TracingConfig mirrors telemetry.Config.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	SamplerType  string  `mapstructure:"sampler"`
	SamplerRatio float64 `mapstructure:"ratio"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Init wires viper to the environment and config files. configFile may be empty.
func Init(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		return errors.Wrapf(v.ReadInConfig(), "failed to read config file %s", configFile)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join("$HOME", DirName))
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "failed to read config")
	}
	return nil
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("provider", "anthropic")
	v.SetDefault("model", "claude-sonnet-4-5")
	v.SetDefault("max_tokens", 8192)
	v.SetDefault("google.backend", "gemini")
	v.SetDefault("breakpoints.mode", BreakpointInteractive)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler", "always")
	v.SetDefault("tracing.ratio", 1.0)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8765)
}

// Load decodes the configuration held by v and fills derived defaults.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to unmarshal configuration")
	}

	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryConfig
	}

	if cfg.BasePath == "" {
		basePath, err := DefaultBasePath()
		if err != nil {
			return cfg, err
		}
		cfg.BasePath = basePath
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.BasePath, "storage.db")
	}

	cfg.ProcessDirs = withDefaultDirs(cfg.ProcessDirs, cfg.BasePath, "processes")
	cfg.SkillDirs = withDefaultDirs(cfg.SkillDirs, cfg.BasePath, "skills")
	cfg.AgentDirs = withDefaultDirs(cfg.AgentDirs, cfg.BasePath, "agents")
	cfg.CatalogDirs = withDefaultDirs(cfg.CatalogDirs, cfg.BasePath, "catalogs")

	cfg.Anthropic.APIKey = firstNonEmpty(cfg.Anthropic.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
	cfg.OpenAI.APIKey = firstNonEmpty(cfg.OpenAI.APIKey, os.Getenv("OPENAI_API_KEY"))
	cfg.Google.APIKey = firstNonEmpty(cfg.Google.APIKey, os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"))

	return cfg, cfg.Validate()
}

// Validate checks enumerated settings.
func (c Config) Validate() error {
	switch c.Breakpoints.Mode {
	case BreakpointInteractive, BreakpointAuto, BreakpointDeferred:
	default:
		return errors.Errorf("invalid breakpoints.mode %q, must be one of interactive, auto, deferred", c.Breakpoints.Mode)
	}

	switch c.Retry.BackoffType {
	case "", "fixed", "exponential":
	default:
		return errors.Errorf("invalid retry.backoff_type %q", c.Retry.BackoffType)
	}

	if c.MaxTokens < 0 {
		return errors.Errorf("max_tokens cannot be negative: %d", c.MaxTokens)
	}
	return nil
}

// DefaultBasePath returns $BABYSITTER_BASE_PATH or ~/.babysitter.
func DefaultBasePath() (string, error) {
	if basePath := os.Getenv(EnvPrefix + "_BASE_PATH"); basePath != "" {
		return basePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, DirName), nil
}

// withDefaultDirs returns dirs unchanged when set, otherwise the repo-local
// directory followed by the user-global one (repo-local takes precedence).
func withDefaultDirs(dirs []string, basePath, name string) []string {
	if len(dirs) > 0 {
		return dirs
	}
	return []string{
		filepath.Join(".", DirName, name),
		filepath.Join(basePath, name),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
