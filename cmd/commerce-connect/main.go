package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/commerce-connect/internal/adapters/driven/auth"
	httpserver "github.com/custodia-labs/commerce-connect/internal/adapters/driving/http"
	"github.com/custodia-labs/commerce-connect/internal/config"
	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "commerce-connect",
	Short: "Commerce platform OAuth connections for tenant backends",
	Long: `commerce-connect stores per-tenant OAuth connections to commerce
platforms (Google Merchant Center, Meta) and keeps their access tokens fresh.

Run with no subcommand to serve the API and the refresh worker together.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), modeAll)
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the HTTP API only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), modeAPI)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the token refresh worker only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), modeWorker)
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Serve the HTTP API and run the refresh worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), modeAll)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one refresh sweep and print its summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep(cmd)
	},
}

var (
	tokenTenant string
	tokenRole   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a tenant backend or operator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToken(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "commerce-connect %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")

	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "tenant id (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(domain.RoleTenant), "token role: tenant or operator")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime, 0 for no expiry")
	_ = tokenCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(apiCmd, workerCmd, allCmd, sweepCmd, tokenCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type runMode string

const (
	modeAPI    runMode = "api"
	modeWorker runMode = "worker"
	modeAll    runMode = "all"
)

func (m runMode) runsAPI() bool    { return m == modeAPI || m == modeAll }
func (m runMode) runsWorker() bool { return m == modeWorker || m == modeAll }

// loadConfig reads .env, the optional YAML file and the environment, then validates.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, mode runMode) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting commerce-connect", "version", version, "mode", mode)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()

	if mode.runsWorker() {
		w, err := a.newWorker()
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	if !mode.runsAPI() {
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	}

	srv := httpserver.NewServer(httpserver.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		Version:     version,
		AdminToken:  cfg.Server.AdminToken,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, httpserver.Deps{
		Integrations: a.integrations,
		Sweeper:      a.sweeper,
		Trigger:      a.scheduler,
		Auth:         a.tokens,
		Metrics:      a.metrics,
		Store:        a.store,
		Lock:         a.lockPinger(),
		Logger:       logger,
	})

	if err := srv.Start(ctx, cfg.Server.ShutdownTimeout); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	logger.Info("shutting down")
	return nil
}

// runSweep runs a single sweep under the lock. It exits non-zero when any
// integration failed to refresh.
func runSweep(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.scheduler.TriggerNow(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d integrations failed to refresh", summary.Failed, summary.Selected)
	}
	return nil
}

// runToken signs a bearer token with JWT_SECRET. Only the auth settings are
// needed, so the full config is not validated.
func runToken(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return &domain.ConfigurationError{Field: "JWT_SECRET", Reason: "is required"}
	}

	role := domain.Role(tokenRole)
	if role != domain.RoleTenant && role != domain.RoleOperator {
		return errors.New("role must be tenant or operator")
	}

	now := time.Now()
	claims := &domain.TokenClaims{
		TenantID: tokenTenant,
		Subject:  "cli",
		Role:     role,
		IssuedAt: now.Unix(),
	}
	if tokenTTL > 0 {
		claims.ExpiresAt = now.Add(tokenTTL).Unix()
	}

	token, err := auth.NewAdapter(cfg.Auth.JWTSecret).GenerateToken(claims)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
