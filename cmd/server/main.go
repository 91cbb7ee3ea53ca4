/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the recurrence engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the logger
  3. Initialize SQLite store and the engine
  4. Create API handler and start the due-date trigger
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration file (default: none, built-in defaults)
  -port    HTTP server port, overrides the file and RECUR_PORT
  -db      SQLite database path, overrides the file and RECUR_DB
           Use ":memory:" for in-memory database

ENVIRONMENT:
  RECUR_PORT, RECUR_DB, RECUR_LOG_LEVEL, RECUR_LOG_FORMAT,
  RECUR_TRIGGER_SPEC, RECUR_TRIGGER_ENABLED, RECUR_TRIGGER_RUN_ON_START,
  RECUR_MATERIALIZE_ON_READ, RECUR_ALLOWED_ORIGINS, RECUR_MAX_OCCURRENCES

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the trigger, waiting for a running sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -config=./recurrence.yaml
  ./server -db=":memory:" -port=3000
  RECUR_TRIGGER_SPEC="@every 5m" ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - api/trigger.go: Due-date sweep schedule
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/recurrence-engine/api"
	"github.com/warp/recurrence-engine/config"
	"github.com/warp/recurrence-engine/generic"
	"github.com/warp/recurrence-engine/logging"
	"github.com/warp/recurrence-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	engine := &generic.Engine{
		Store:          store,
		Users:          store,
		Activity:       store,
		Clock:          generic.SystemClock,
		Log:            logger.With().Str("component", "engine").Logger(),
		MaxOccurrences: cfg.MaxOccurrences,
	}

	handler := api.NewHandler(store, engine, logger.With().Str("component", "api").Logger())
	handler.MaterializeOnRead = cfg.MaterializeOnRead

	trigger := handler.Trigger
	trigger.Spec = cfg.Trigger.Spec
	trigger.Enabled = cfg.Trigger.Enabled
	trigger.RunOnStart = cfg.Trigger.RunOnStart
	if err := trigger.Start(); err != nil {
		return fmt.Errorf("start trigger: %w", err)
	}
	defer trigger.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Port).Str("db", cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	logger.Info().Msg("shutting down server")
	trigger.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}
