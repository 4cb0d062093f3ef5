package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bissquit/status-dashboard/internal/app"
	"github.com/bissquit/status-dashboard/internal/catalog"
	catalogpostgres "github.com/bissquit/status-dashboard/internal/catalog/postgres"
	"github.com/bissquit/status-dashboard/internal/config"
	"github.com/bissquit/status-dashboard/internal/identity"
	"github.com/bissquit/status-dashboard/internal/incidents"
	incidentspostgres "github.com/bissquit/status-dashboard/internal/incidents/postgres"
	"github.com/bissquit/status-dashboard/internal/pkg/postgres"
	"github.com/bissquit/status-dashboard/internal/version"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath   string
	migrateSteps int
	catalogPath  string
	purgeCatalog bool

	cfg    *config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:           "status-dashboard",
		Short:         "Component status and incident reconciliation service",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			logger = app.NewLogger(cfg.Log)
			slog.SetDefault(logger)
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			return postgres.MigrateUp(cfg.Database.URL, cfg.Database.MigrationsPath)
		},
	}
	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			return postgres.MigrateDown(cfg.Database.URL, cfg.Database.MigrationsPath, migrateSteps)
		},
	}

	provisionCmd = &cobra.Command{
		Use:   "provision",
		Short: "Create components listed in the catalog file",
		RunE:  runProvision,
	}

	purgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Delete all incidents and, optionally, all components",
		RunE:  runPurge,
	}

	tokenCmd = &cobra.Command{
		Use:   "token <username>",
		Short: "Issue an API token for a username",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"),
		"path to the YAML config file (env CONFIG_FILE)")

	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back, 0 rolls back all")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)

	provisionCmd.Flags().StringVar(&catalogPath, "file", "", "catalog file, defaults to catalog.file from config")

	purgeCmd.Flags().BoolVar(&purgeCatalog, "components", false, "also delete components")

	rootCmd.AddCommand(serveCmd, migrateCmd, provisionCmd, purgeCmd, tokenCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case sig := <-quit:
		logger.Info("received signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return application.Shutdown(ctx)
}

func runProvision(cmd *cobra.Command, _ []string) error {
	path := catalogPath
	if path == "" {
		path = cfg.Catalog.File
	}

	file, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}

	db, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	resolver := catalog.NewResolver(catalogpostgres.NewRepository(db))
	result, err := resolver.Provision(cmd.Context(), file)
	if err != nil {
		return err
	}

	logger.Info("catalog provisioned", "file", path, "created", result.Created, "skipped", result.Skipped)
	return nil
}

func runPurge(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	resolver := catalog.NewResolver(catalogpostgres.NewRepository(db))
	engine := incidents.NewEngine(incidentspostgres.NewRepository(db), resolver, incidents.Config{
		Impacts:  cfg.ImpactSet(),
		Statuses: cfg.Statuses,
	})

	if err := engine.Purge(ctx); err != nil {
		return err
	}
	logger.Info("incidents purged")

	if purgeCatalog {
		if err := resolver.Purge(ctx); err != nil {
			return err
		}
		logger.Info("components purged")
	}
	return nil
}

func runToken(_ *cobra.Command, args []string) error {
	authenticator, err := identity.NewAuthenticator(identity.Config{
		SecretKey:     cfg.Auth.SecretKey,
		AllowedUsers:  cfg.Auth.AllowedUsers,
		TokenDuration: cfg.Auth.TokenDuration,
	})
	if err != nil {
		return err
	}

	token, err := authenticator.IssueToken(args[0])
	if err != nil {
		return err
	}
	// A token for a user outside the allow list would be rejected on use.
	if _, err := authenticator.ValidateToken(context.Background(), token); err != nil {
		if errors.Is(err, identity.ErrUnknownUser) {
			return fmt.Errorf("%q is not in auth.allowed_users", args[0])
		}
		return err
	}

	_, err = fmt.Fprintln(os.Stdout, token)
	return err
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    2,
		MaxIdleConns:    0,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ApplicationName: "status-dashboard-cli",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}
