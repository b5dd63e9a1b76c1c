package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrpan/runnerctl/internal/config"
	"github.com/terrpan/runnerctl/internal/health"
	"github.com/terrpan/runnerctl/internal/lifecycle"
	"github.com/terrpan/runnerctl/internal/otel"
	"github.com/terrpan/runnerctl/internal/runner"
)

var (
	cfgPath       string
	outputPath    string
	flagOverrides config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "runnerctl",
	Short: "Lifecycle helper for a single ephemeral GitHub Actions self-hosted runner",
	Long: `runnerctl mints registration tokens, waits for a freshly provisioned
self-hosted runner to come online, and removes it when the work is done.
The runner is identified solely by a unique label.

Configuration is read from a YAML file (--config) with optional CLI
flag overrides.  The token falls back to $GITHUB_TOKEN.`,
	SilenceUsage: true,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a new runner registration token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(ctx context.Context, s *session) error {
			tok, err := s.manager.GetRegistrationToken(ctx)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), tok.Token)
		})
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until the labeled runner is online",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session) error {
			r, err := s.manager.WaitForRunnerRegistered(ctx, s.cfg.Runner.Label)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", r.Name)
			return nil
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove every runner carrying the label",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session) error {
			return s.manager.RemoveRunners(ctx)
		})
	},
}

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Print a fresh unique runner label",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeOutput(cmd.OutOrStdout(), runner.NewLabel())
	},
}

func init() {
	f := rootCmd.PersistentFlags()

	// Config file
	f.StringVar(&cfgPath, "config", "runnerctl.yaml", "Path to YAML configuration file")

	// GitHub overrides
	f.StringVar(&flagOverrides.GitHub.URL, "url", "", "Repository URL (e.g. https://github.com/org/repo)")
	f.StringVar(&flagOverrides.GitHub.Token, "token", "", "Token with administration rights on the repository")
	f.StringVar(&flagOverrides.GitHub.APIURL, "api-url", "", "GitHub Enterprise Server REST base URL")

	// Runner overrides
	f.StringVar(&flagOverrides.Runner.Label, "label", "", "Unique label of the runner")

	// Wait overrides
	f.DurationVar(&flagOverrides.Wait.QuietPeriod, "quiet-period", 0, "Delay before the first readiness check")
	f.DurationVar(&flagOverrides.Wait.PollInterval, "poll-interval", 0, "Delay between readiness checks")
	f.DurationVar(&flagOverrides.Wait.Timeout, "timeout", 0, "Give up waiting after this long")

	// Logging overrides
	f.StringVar(&flagOverrides.Logging.Level, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&flagOverrides.Logging.Format, "log-format", "", "Log format (text, json)")

	// Admin endpoint
	f.IntVar(&flagOverrides.Metrics.Port, "metrics-port", 0, "Serve /healthz and /metrics on this port (0 disables)")

	for _, c := range []*cobra.Command{tokenCmd, labelCmd} {
		c.Flags().StringVarP(&outputPath, "output", "o", "", "Also write the value to this file")
	}

	rootCmd.AddCommand(tokenCmd, waitCmd, removeCmd, labelCmd)
}

// applyFlagOverrides merges non-zero CLI flag values into the loaded config.
func applyFlagOverrides(cfg *config.Config) {
	if flagOverrides.GitHub.URL != "" {
		cfg.GitHub.URL = flagOverrides.GitHub.URL
	}
	if flagOverrides.GitHub.Token != "" {
		cfg.GitHub.Token = flagOverrides.GitHub.Token
	}
	if flagOverrides.GitHub.APIURL != "" {
		cfg.GitHub.APIURL = flagOverrides.GitHub.APIURL
	}
	if flagOverrides.Runner.Label != "" {
		cfg.Runner.Label = flagOverrides.Runner.Label
	}
	if flagOverrides.Wait.QuietPeriod != 0 {
		cfg.Wait.QuietPeriod = flagOverrides.Wait.QuietPeriod
	}
	if flagOverrides.Wait.PollInterval != 0 {
		cfg.Wait.PollInterval = flagOverrides.Wait.PollInterval
	}
	if flagOverrides.Wait.Timeout != 0 {
		cfg.Wait.Timeout = flagOverrides.Wait.Timeout
	}
	if flagOverrides.Logging.Level != "" {
		cfg.Logging.Level = flagOverrides.Logging.Level
	}
	if flagOverrides.Logging.Format != "" {
		cfg.Logging.Format = flagOverrides.Logging.Format
	}
	if flagOverrides.Metrics.Port != 0 {
		cfg.Metrics.Port = flagOverrides.Metrics.Port
	}
}

// session is what every registry-backed command needs.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	manager *lifecycle.Manager
}

func withSession(cmd *cobra.Command, needLabel bool, fn func(context.Context, *session) error) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	// ---------------------------------------------------------------
	// 1. Load configuration
	// ---------------------------------------------------------------
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if needLabel {
		if err := cfg.RequireLabel(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	// ---------------------------------------------------------------
	// 2. Create logger and telemetry
	// ---------------------------------------------------------------
	logger := cfg.NewLogger()
	logger.Info("configuration loaded",
		slog.String("command", cmd.Name()),
		slog.String("configFile", cfgPath),
		slog.String("repository", cfg.Repository().String()),
		slog.String("label", cfg.Runner.Label),
	)

	shutdownOTel, err := otel.SetupOTelSDK(ctx, "runnerctl", cfg.OTelSetup())
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if cfg.Metrics.Port > 0 {
		admin, err := health.Start(cfg.Metrics.Port,
			health.NewMux(cfg.Repository().String(), cfg.Runner.Label),
			logger.WithGroup("admin"))
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = admin.Shutdown(shutdownCtx)
		}()
	}

	// ---------------------------------------------------------------
	// 3. Create registry client and lifecycle manager
	// ---------------------------------------------------------------
	registry, err := cfg.NewRegistry(logger.WithGroup("registry"))
	if err != nil {
		return fmt.Errorf("creating registry client: %w", err)
	}

	m := lifecycle.New(lifecycle.Config{
		Repository: cfg.Repository(),
		Label:      cfg.Runner.Label,
		Registry:   registry,
		Wait:       cfg.LifecycleWait(),
		Logger:     logger.WithGroup("lifecycle"),
	})

	// ---------------------------------------------------------------
	// 4. Run
	// ---------------------------------------------------------------
	err = fn(ctx, &session{cfg: cfg, logger: logger, manager: m})
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted")
	}
	return err
}

// writeOutput prints value and, with --output, writes it to a file.
func writeOutput(w io.Writer, value string) error {
	fmt.Fprintln(w, value)
	if outputPath == "" {
		return nil
	}
	if err := os.WriteFile(outputPath, []byte(value+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}
	return nil
}
