// Package config handles loading, validating, and applying
// configuration for runnerctl.  Configuration is read from an optional
// YAML file and can be overridden by CLI flags and the GITHUB_TOKEN
// environment variable.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/terrpan/runnerctl/internal/lifecycle"
	"github.com/terrpan/runnerctl/internal/otel"
	"github.com/terrpan/runnerctl/internal/runner"
	"github.com/terrpan/runnerctl/internal/runner/github"
)

// TokenEnv is consulted when no token is configured.
const TokenEnv = "GITHUB_TOKEN"

// ---------------------------------------------------------------------------
// Top-level config
// ---------------------------------------------------------------------------

// Config is the root configuration structure.
type Config struct {
	GitHub  GitHubConfig  `yaml:"github"`
	Runner  RunnerConfig  `yaml:"runner"`
	Wait    WaitConfig    `yaml:"wait"`
	Logging LoggingConfig `yaml:"logging"`
	OTel    OTelConfig    `yaml:"otel"`
	Metrics MetricsConfig `yaml:"metrics"`

	// repo and apiURL are derived from GitHub.URL by Validate.
	repo   runner.Repository
	apiURL string
}

// ---------------------------------------------------------------------------
// GitHub / auth
// ---------------------------------------------------------------------------

// GitHubConfig holds credentials and the repository the runner is
// registered to.
type GitHubConfig struct {
	// URL is the repository URL (e.g. https://github.com/org/repo).
	URL string `yaml:"url"`

	// Token needs administration rights on the repository.  Falls back
	// to $GITHUB_TOKEN.
	Token string `yaml:"token"`

	// APIURL overrides the REST base URL.  By default it is derived from
	// URL: empty for github.com, https://<host>/api/v3/ otherwise.
	APIURL string `yaml:"api_url"`
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// RunnerConfig identifies the runner this invocation manages.
type RunnerConfig struct {
	// Label uniquely identifies one runner for its whole lifetime.
	Label string `yaml:"label"`
}

// ---------------------------------------------------------------------------
// Wait
// ---------------------------------------------------------------------------

// WaitConfig tunes how long and how often to check for the runner.
type WaitConfig struct {
	// QuietPeriod is slept once before the first check.  Default: 10s.
	QuietPeriod time.Duration `yaml:"quiet_period"`
	// PollInterval separates checks.  Default: 5s.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Timeout is counted from the first check.  Default: 5m.
	Timeout time.Duration `yaml:"timeout"`
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	// Level: debug, info, warn, error.  Default: info.
	Level string `yaml:"level"`
	// Format: text, json.  Default: text.
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// OpenTelemetry
// ---------------------------------------------------------------------------

// OTelConfig controls OpenTelemetry tracing and metrics.
type OTelConfig struct {
	// Enabled controls whether OTLP export is active.  Default: false.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP HTTP endpoint (e.g. "localhost:4318").
	// If empty, falls back to OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `yaml:"endpoint"`

	// Insecure enables plain HTTP (no TLS) for OTLP export.
	Insecure bool `yaml:"insecure"`

	// StdOut also prints traces and metrics to stdout.
	StdOut bool `yaml:"stdout"`
}

// MetricsConfig controls the local admin endpoint.
type MetricsConfig struct {
	// Port serves /healthz and /metrics while a command runs.
	// 0 disables the endpoint.  Default: 0.
	Port int `yaml:"port"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads a YAML config file from path and returns the parsed Config.
// A missing file is not an error: flags and the environment can supply
// everything.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// ---------------------------------------------------------------------------
// Defaults & validation
// ---------------------------------------------------------------------------

// ApplyDefaults fills in defaults for any unset fields.
func (c *Config) ApplyDefaults() {
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv(TokenEnv)
	}
	def := lifecycle.DefaultWaitConfig()
	if c.Wait.QuietPeriod == 0 {
		c.Wait.QuietPeriod = def.QuietPeriod
	}
	if c.Wait.PollInterval == 0 {
		c.Wait.PollInterval = def.PollInterval
	}
	if c.Wait.Timeout == 0 {
		c.Wait.Timeout = def.Timeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Runner.Label = strings.TrimSpace(c.Runner.Label)
}

// Validate checks that all required fields are present and consistent.
// The runner label is not required here since not every command needs
// it; see RequireLabel.
func (c *Config) Validate() error {
	c.ApplyDefaults()

	repo, apiURL, err := github.ParseRepositoryURL(c.GitHub.URL)
	if err != nil {
		return fmt.Errorf("github.url: %w", err)
	}
	c.repo = repo
	c.apiURL = apiURL
	if c.GitHub.APIURL != "" {
		c.apiURL = c.GitHub.APIURL
	}

	if c.GitHub.Token == "" {
		return fmt.Errorf("no credentials: provide github.token or set %s", TokenEnv)
	}

	if c.Wait.QuietPeriod < 0 {
		return fmt.Errorf("wait.quiet_period must not be negative (got %s)", c.Wait.QuietPeriod)
	}
	if c.Wait.PollInterval <= 0 {
		return fmt.Errorf("wait.poll_interval must be positive (got %s)", c.Wait.PollInterval)
	}
	if c.Wait.Timeout <= 0 {
		return fmt.Errorf("wait.timeout must be positive (got %s)", c.Wait.Timeout)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (supported: text, json)", c.Logging.Format)
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port %d is out of range", c.Metrics.Port)
	}

	return nil
}

// RequireLabel reports an error when no runner label is configured.
func (c *Config) RequireLabel() error {
	if strings.TrimSpace(c.Runner.Label) == "" {
		return fmt.Errorf("runner.label is required")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Factories
// ---------------------------------------------------------------------------

// NewLogger creates a *slog.Logger from the Logging configuration.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     c.slogLevel(),
	}

	// Logs go to stderr so stdout stays clean for command output.
	switch strings.ToLower(c.Logging.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
}

func (c *Config) slogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Repository returns the repository parsed from github.url.  Only valid
// after Validate.
func (c *Config) Repository() runner.Repository {
	return c.repo
}

// NewRegistry creates the GitHub registration client.
func (c *Config) NewRegistry(logger *slog.Logger) (*github.Client, error) {
	return github.New(github.Config{
		Token:  c.GitHub.Token,
		APIURL: c.apiURL,
	}, logger)
}

// LifecycleWait converts the wait settings for the lifecycle package.
func (c *Config) LifecycleWait() lifecycle.WaitConfig {
	return lifecycle.WaitConfig{
		QuietPeriod:  c.Wait.QuietPeriod,
		PollInterval: c.Wait.PollInterval,
		Timeout:      c.Wait.Timeout,
	}
}

// OTelSetup converts the telemetry settings for the otel package.
func (c *Config) OTelSetup() otel.Config {
	return otel.Config{
		Enabled:     c.OTel.Enabled,
		Endpoint:    c.OTel.Endpoint,
		Insecure:    c.OTel.Insecure,
		StdOut:      c.OTel.StdOut,
		MetricsPort: c.Metrics.Port,
	}
}
