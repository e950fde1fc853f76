package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pavelzhukov/raylink/adapter/cli"
	"github.com/pavelzhukov/raylink/adapter/cli/account"
	"github.com/pavelzhukov/raylink/internal/app"
	"github.com/pavelzhukov/raylink/pkg/config"
	"github.com/pavelzhukov/raylink/pkg/observability"
)

func main() {
	// Setup logger
	logger := observability.NewLogger(observability.DefaultLogConfig())

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// In development without .env, use defaults
		logger.Warn("failed to load config, using development mode", "error", err)
		cfg = &config.Config{AppEnv: "development"}
	}

	// Rebuild the logger from config: JSON in production, debug in dev.
	logCfg := observability.DefaultLogConfig()
	if cfg.IsProduction() {
		logCfg = observability.ProductionLogConfig()
	}
	logCfg.Level = observability.LogLevel(cfg.LogLevel)
	if cfg.IsDevelopment() {
		logCfg.Level = observability.LogLevelDebug
	}
	logCfg.ServiceVersion = cli.Version
	logger = observability.NewLogger(logCfg)
	cli.SetLogger(logger)

	// Try to initialize the full container. Local mode runs on embedded
	// SQLite; otherwise PostgreSQL and the broker are required.
	var cliApp *cli.App
	var container *app.Container
	if cfg.UseLocalMode() {
		container, err = app.NewLocalContainer(ctx, cfg, logger)
	} else {
		container, err = app.NewContainer(ctx, cfg, logger)
	}
	if err != nil {
		if cfg.IsDevelopment() {
			logger.Warn("failed to initialize container, running in limited mode", "error", err)
			// In development, allow CLI to run without a store
			cliApp = nil
		} else {
			logger.Error("failed to initialize container", "error", err)
			os.Exit(1)
		}
	} else {
		defer container.Close()

		cli.SetContainer(container)

		// Create CLI app with handlers
		cliApp = cli.NewApp(
			container.GrantWindowHandler,
			container.RevokeWindowHandler,
			container.SetBanHandler,
			container.SweepExpirationsHandler,
			container.AccountOverviewHandler,
			container.SystemStatsHandler,
			container.CheckAccessHandler,
			container.ListDevicesHandler,
			container.AccountRepo,
			container.Catalog,
		)
	}

	// Set the CLI app
	cli.SetApp(cliApp)

	// Register commands
	cli.AddCommand(account.Cmd)

	// Execute CLI
	cli.Execute(ctx)
}
