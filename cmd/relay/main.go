// Package main provides the CLI entry point for the Relay chat server.
//
// Relay exposes a tool-calling LLM chat pipeline over HTTP with NDJSON
// streaming responses. It supports OpenAI and Anthropic backends, web
// search and shell tools, skill-based prompt injection, and long-term
// memory recall.
//
// Start the server:
//
//	relay serve --config relay.yaml
//
// API keys can be provided via environment variables (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, BRAVE_API_KEY) or expanded into the config file
// with ${VAR} references.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/conversations"
	"github.com/haasonsaas/relay/internal/memory"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/orchestrator"
	"github.com/haasonsaas/relay/internal/providers"
	"github.com/haasonsaas/relay/internal/rag"
	"github.com/haasonsaas/relay/internal/searchcache"
	"github.com/haasonsaas/relay/internal/server"
	"github.com/haasonsaas/relay/internal/skills"
	"github.com/haasonsaas/relay/internal/tools/shell"
	"github.com/haasonsaas/relay/internal/tools/websearch"
)

// Build information populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "relay",
		Short:        "Relay - streaming LLM chat server with tool execution",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relay %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Relay chat server",
		Long: `Start the chat server with the configured LLM provider and tools.

The server loads its configuration, opens the database, registers the
enabled tools, and serves the HTTP API until SIGINT or SIGTERM.`,
		Example: `  # Start with default config
  relay serve --config relay.yaml

  # Start with debug logging
  relay serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(nil)

	// Stores. A database path shares one SQLite handle across the
	// conversation, skill, and memory stores; without one everything is
	// in-memory and lost on restart.
	var (
		convStore     conversations.Store
		skillRegistry skills.Registry
		recaller      memory.Recaller
		cache         searchcache.Store
	)
	if cfg.Database.Path != "" {
		sqliteStore, err := conversations.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open conversation store: %w", err)
		}
		defer sqliteStore.Close()
		convStore = sqliteStore

		skillRegistry, err = skills.NewSQLiteRegistry(sqliteStore.DB())
		if err != nil {
			return fmt.Errorf("open skill registry: %w", err)
		}
		if cfg.Memory.Enabled {
			recaller, err = memory.NewSQLiteStore(sqliteStore.DB())
			if err != nil {
				return fmt.Errorf("open memory store: %w", err)
			}
		}
		sqliteCache, err := searchcache.NewSQLiteStore(cfg.Database.Path + ".cache")
		if err != nil {
			return fmt.Errorf("open search cache: %w", err)
		}
		defer sqliteCache.Close()
		cache = sqliteCache
	} else {
		logger.Warn("no database path configured, using in-memory stores")
		convStore = conversations.NewMemoryStore()
		skillRegistry = skills.NewMemoryRegistry()
		cache = searchcache.NewMemoryStore()
		if cfg.Memory.Enabled {
			recaller = memory.NewMemoryStore()
		}
	}

	provider, model, err := buildProvider(cfg.LLM)
	if err != nil {
		return err
	}
	logger.Info("llm provider ready", "provider", provider.Name(), "model", model)

	registry := orchestrator.NewRegistry()
	if cfg.Tools.WebSearch.Enabled {
		searchTool := websearch.New(websearch.Config{
			BraveAPIKey:    cfg.Tools.WebSearch.BraveAPIKey,
			DefaultBackend: websearch.Backend(cfg.Tools.WebSearch.Backend),
			CacheTTL:       cfg.Cache.TTL,
			Metrics:        metrics,
		}, cache, logger)
		if err := registry.Register(searchTool); err != nil {
			return err
		}
	}
	if cfg.Tools.Shell.Enabled {
		shellTool := shell.New(&shell.HostRunner{WorkDir: cfg.Tools.Shell.WorkDir})
		if err := registry.Register(shellTool); err != nil {
			return err
		}
	}
	logger.Info("tools registered", "count", registry.Len())

	var retriever rag.Retriever
	if cfg.RAG.Enabled && cfg.RAG.URL != "" {
		retriever = rag.NewClient(cfg.RAG.URL, cfg.RAG.Timeout)
	}

	assembler := orchestrator.NewAssembler(orchestrator.AssemblerOptions{
		Skills:      skillRegistry,
		Memory:      recaller,
		RAG:         retriever,
		Logger:      logger,
		MemoryLimit: cfg.Memory.Limit,
	})
	executor := orchestrator.NewExecutor(registry, orchestrator.ExecutorOptions{
		Timeout: cfg.Tools.Timeout,
		Logger:  logger,
		Metrics: metrics,
	})

	pipeline, err := orchestrator.NewPipeline(orchestrator.PipelineOptions{
		Provider:     provider,
		Store:        convStore,
		Assembler:    assembler,
		Executor:     executor,
		Registry:     registry,
		Skills:       skillRegistry,
		Logger:       logger,
		Metrics:      metrics,
		Model:        model,
		BaseSystem:   cfg.Loop.SystemPrompt,
		MaxTokens:    cfg.Loop.MaxTokens,
		MaxRounds:    cfg.Loop.MaxRounds,
		HistoryLimit: cfg.Loop.HistoryLimit,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Pipeline: pipeline,
		Store:    convStore,
		Tokens:   cfg.Auth.Tokens,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              server.ListenAddr(cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Chat responses stream for as long as the loop runs, so no
		// write timeout.
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func buildLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// buildProvider resolves the configured LLM backend, falling back to
// conventional environment variables for API keys.
func buildProvider(cfg config.LLMConfig) (orchestrator.LLMProvider, string, error) {
	pc := cfg.Providers[cfg.Provider]

	switch cfg.Provider {
	case "openai":
		apiKey := pc.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		provider, err := providers.NewOpenAIProvider(providers.OpenAIOptions{
			APIKey:  apiKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, pc.Model, nil
	case "anthropic":
		apiKey := pc.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		provider, err := providers.NewAnthropicProvider(providers.AnthropicOptions{
			APIKey:  apiKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, pc.Model, nil
	default:
		return nil, "", fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
