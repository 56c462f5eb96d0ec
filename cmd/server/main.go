/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the budget reconciliation server, and offers a
  small offline command for previewing adjustment distributions.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE (serve):
  1. Load configuration (defaults, file, .env, BUDGET_* env, flags)
  2. Initialize SQLite store
  3. Create API handler and portfolio service
  4. Start the KPI snapshot scheduler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMANDS:
  serve                               Run the HTTP server (default)
  distribute <amount> <start> <n>     Print a pro-rata distribution

FLAGS:
  --config  Path to a config file (yaml, json or toml)
  --port    HTTP server port, overrides server.port
  --db      SQLite database path, overrides database.path
            Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection

EXAMPLES:
  ./server --db=":memory:"
  ./server serve --port=3000
  ./server distribute 1000000 2025-11 3

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/budget-engine/adjustment"
	"github.com/warp/budget-engine/api"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/config"
	"github.com/warp/budget-engine/portfolio"
	"github.com/warp/budget-engine/store/sqlite"
)

var (
	cfgPath string
	port    int
	dbPath  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "server",
		Short:        "Baseline-scoped budget reconciliation server",
		RunE:         runServer,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to a config file")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServer,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "distribute <amount> <start YYYY-MM> <months>",
		Short: "Print how an amount spreads pro-rata over months",
		Args:  cobra.ExactArgs(3),
		RunE:  runDistribute,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	logger := newLogger(cfg)
	ctx := logger.WithContext(cmd.Context())

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, portfolio.Options{
		Policy:        cfg.Policy(),
		DefaultMonths: cfg.Matrix.Months,
	})

	scheduler := api.NewKPISnapshotScheduler(store, handler.Service, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Schedule = cfg.Scheduler.KPISchedule
	scheduler.Timezone = cfg.Scheduler.Timezone
	scheduler.Months = cfg.Matrix.Months
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         logger,
		AllowedOrigins: cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Int("port", cfg.Server.Port).
			Str("db", cfg.Database.Path).
			Str("filter_policy", string(cfg.Policy())).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}

func runDistribute(cmd *cobra.Command, args []string) error {
	amount, err := budget.ParseAmount(args[0])
	if err != nil {
		return err
	}
	months, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("months %q: %w", args[2], budget.ErrInvalidArgument)
	}

	if !budget.IsCents(amount) {
		return fmt.Errorf("amount %q has more than 2 decimal places: %w", args[0], budget.ErrInvalidArgument)
	}

	dist, err := adjustment.DistributeLabel(amount, args[1], months)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, e := range dist {
		fmt.Fprintf(out, "%s\t%s\n", e.Month, e.Amount.StringFixed(budget.CurrencyPlaces))
	}
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Log.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(cfg.LogLevel()).With().Timestamp().Logger()
}
