package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"naming_events/pkg/config"
	"naming_events/pkg/database"
	"naming_events/pkg/security"
	"naming_events/pkg/utils"
)

var (
	configFile string
	envFile    string
	debug      bool

	tokenSubject string
	tokenTenants []string
	tokenTTL     time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "naming-events",
	Short:         "Run scheduled community naming events",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Recover pending deadlines and serve the command API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
			return app.serve(ctx)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and seed destinations, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()
		db, err := database.NewService(&cfg.Database, logger)
		if err != nil {
			return err
		}
		if err := db.Start(ctx); err != nil {
			return err
		}
		defer db.Stop(context.Background())

		if cfg.DestinationsFile != "" {
			return seedDestinations(ctx, db.GetRepository(), cfg.DestinationsFile, logger)
		}
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Resolve every expired deadline once, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
			pending, err := app.engine.ActiveTenants(ctx)
			if err != nil {
				return err
			}
			app.logger.Info("Recovery pass finished", zap.Int("active", len(pending)), zap.Strings("tenants", pending))
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed admin token for the command API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		tokens := security.NewTokenManager(cfg.Security, nil)
		if tokens == nil {
			return errors.New("security.admin_secret is not configured")
		}
		token, err := tokens.Issue(tokenSubject, tokenTenants, tokenTTL)
		if err != nil {
			return err
		}
		logger.Info("Admin token issued",
			zap.String("subject", tokenSubject),
			zap.Strings("tenants", tokenTenants),
			zap.Time("expiresAt", token.ExpiresAt))
		fmt.Fprintln(cmd.OutOrStdout(), token.Value)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Who the token is for")
	tokenCmd.Flags().StringSliceVar(&tokenTenants, "tenant", nil, "Restrict the token to these tenants (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime, defaults to security.token_ttl")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(serveCmd, migrateCmd, recoverCmd, tokenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads the environment, configuration and logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	if debug {
		cfg.LogLevel = "debug"
	}

	logger, err := utils.NewLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	return cfg, logger, nil
}

// withApp starts every service, runs fn and shuts down in reverse order
func withApp(ctx context.Context, fn func(context.Context, *App) error) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", zap.Error(err))
		return err
	}

	runErr := app.start(ctx)
	if runErr == nil {
		logger.Info("All services started successfully")
		runErr = fn(ctx, app)
	}

	if err := app.stop(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
