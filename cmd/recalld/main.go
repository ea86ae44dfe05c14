package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/recall/config"
	"github.com/aschepis/backscratcher/recall/decay"
	recalllogger "github.com/aschepis/backscratcher/recall/logger"
	"github.com/aschepis/backscratcher/recall/mcp"
	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/memory/anthropic"
	"github.com/aschepis/backscratcher/recall/memory/ollama"
	"github.com/aschepis/backscratcher/recall/memory/openai"
	"github.com/aschepis/backscratcher/recall/migrations"
	"github.com/aschepis/backscratcher/recall/reactions"
	"github.com/aschepis/backscratcher/recall/runtime"
	"github.com/aschepis/backscratcher/recall/server"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", config.GetConfigPath(), "Path to config file")
		socketPath = flag.String("socket", "", "Unix socket path for gRPC server (overrides config)")
		tcpAddress = flag.String("tcp", "", "TCP address to listen on (e.g., localhost:50051). If set, disables Unix socket")
		logFile    = flag.String("logfile", "", "Path to log file (overrides config)")
		pretty     = flag.Bool("pretty", false, "Log human-readable output to stderr instead of a file")
		dbPath     = flag.String("db", "", "Path to SQLite database file (overrides config)")
		mcpStdio   = flag.Bool("mcp", false, "Serve MCP tools over stdin/stdout instead of gRPC")
		once       = flag.String("once", "", "Run one job (decay or reaction_aggregation) and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *socketPath != "" {
		cfg.Server.Socket = *socketPath
	}
	if *tcpAddress != "" {
		cfg.Server.TCP = *tcpAddress
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *pretty {
		cfg.Log.File = ""
		cfg.Log.Pretty = true
	}

	logger, err := recalllogger.InitWithOptions(config.ExpandPath(cfg.Log.File), cfg.Log.Pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info().
		Str("config", *configPath).
		Str("db", cfg.Database.Path).
		Bool("mcp", *mcpStdio).
		Msg("recalld starting")

	// ---------------------------
	// 1. Open SQLite + Memory Store
	// ---------------------------

	db, err := openDB(config.ExpandPath(cfg.Database.Path))
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.RunMigrations(db, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	ctx := context.Background()
	store := memory.NewStore(db, logger)
	store.EnsureLexicalIndex(ctx)
	if _, err := store.ProbeCapabilities(ctx); err != nil {
		return err
	}

	// ---------------------------
	// 2. Collaborators, Retriever, Updater
	// ---------------------------

	embedder, err := newEmbedder(cfg.Embedder, logger)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	summarizer, err := newSummarizer(cfg.Summarizer, logger)
	if err != nil {
		return fmt.Errorf("failed to create merge summarizer: %w", err)
	}

	memCfg := cfg.ToMemoryConfig()
	retriever := memory.NewRetriever(store, embedder, memCfg, logger)
	updater := memory.NewUpdater(store, embedder, summarizer, memCfg, logger)

	// ---------------------------
	// 3. Background Jobs
	// ---------------------------

	decayEngine := decay.NewEngine(store, cfg.ToDecayConfig(), logger)
	reactionStore := reactions.NewStore(store, logger)
	aggregator := reactions.NewAggregator(store, reactionStore, cfg.ToReactionConfig(), logger)

	scheduler := runtime.NewScheduler(cfg.JobTimeout(), logger)
	if err := scheduler.Register(runtime.JobDecay, config.Schedule(cfg.Jobs.DecaySchedule), func(ctx context.Context) (any, error) {
		return decayEngine.Run(ctx)
	}); err != nil {
		return err
	}
	if err := scheduler.Register(runtime.JobAggregation, config.Schedule(cfg.Jobs.AggregationSchedule), func(ctx context.Context) (any, error) {
		return aggregator.Run(ctx)
	}); err != nil {
		return err
	}

	if *once != "" {
		res, err := scheduler.RunNow(ctx, *once)
		logger.Info().Str("job", res.Job).Dur("duration", res.Duration).Interface("stats", res.Stats).Msg("Job finished")
		return err
	}

	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		scheduler.Stop(stopCtx)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------------------
	// 4. Serve
	// ---------------------------

	if *mcpStdio {
		err := mcp.NewServer(retriever, updater, version, logger).ServeStdio(sigCtx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server error: %w", err)
		}
		logger.Info().Msg("recalld shutdown complete")
		return nil
	}

	srv := server.New(server.Config{SocketPath: cfg.Server.Socket, Logger: logger}, store, retriever, updater, reactionStore, scheduler)

	serverErr := make(chan error, 1)
	go func() {
		if cfg.Server.TCP != "" {
			serverErr <- srv.ServeTCP(cfg.Server.TCP)
			return
		}
		serverErr <- srv.ServeUnix(cfg.Server.Socket)
	}()

	select {
	case <-sigCtx.Done():
		logger.Info().Msg("Received shutdown signal")
		srv.GracefulStop()
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	if cfg.Server.TCP == "" {
		if err := os.Remove(cfg.Server.Socket); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("socket", cfg.Server.Socket).Msg("Failed to remove socket file on shutdown")
		}
	}

	logger.Info().Msg("recalld shutdown complete")
	return nil
}

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func newEmbedder(cfg config.EmbedderConfig, logger zerolog.Logger) (memory.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.NewEmbedder(ollama.Model(cfg.Model), cfg.Host, logger)
	case config.ProviderOpenAI:
		return openai.NewEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions, logger)
	}
	return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
}

// newSummarizer returns nil for provider "none", which makes the updater
// fall back to newest-wins merges.
func newSummarizer(cfg config.SummarizerConfig, logger zerolog.Logger) (memory.MergeSummarizer, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewSummarizer(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens, logger)
	case config.ProviderOllama:
		return ollama.NewSummarizer(cfg.Model, cfg.Host, logger)
	case config.ProviderNone, "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Provider)
}
