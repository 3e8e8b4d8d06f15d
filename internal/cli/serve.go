package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/averno/clerk/internal/config"
	"github.com/averno/clerk/internal/logger"
	"github.com/averno/clerk/internal/tracing"
	"github.com/averno/clerk/pkg/agent"
	"github.com/averno/clerk/pkg/catalog"
	"github.com/averno/clerk/pkg/chat"
	"github.com/averno/clerk/pkg/commandqueue"
	"github.com/averno/clerk/pkg/gateway"
	"github.com/averno/clerk/pkg/provider"
	"github.com/averno/clerk/pkg/session"
	"github.com/averno/clerk/pkg/store"
	"github.com/averno/clerk/pkg/tools"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Clerk chat server",
	Long: `Run the Clerk chat server in the foreground.
Initialization order is store, tool registry, provider chain; the process
refuses to start when no provider credential is present in the environment.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %v", errs[0])
	}

	appLogger, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	zl := appLogger.GetZerolog()

	if err := tracing.InitOpenTelemetry("clerk", cfg.Tracing.SampleRatio); err != nil {
		zl.Warn().Err(err).Msg("OpenTelemetry initialization failed, continuing without tracing")
	}

	// Store first. A missing or broken database is not fatal, the
	// store degrades to volatile mode on its own.
	sessions := store.New(cfg.Store.Path, zl)
	defer sessions.Close()

	search := catalog.NewClient(
		cfg.Search.BaseURL,
		time.Duration(cfg.Search.TimeoutSeconds)*time.Second,
		zl,
	)

	registry := tools.NewRegistry()
	if err := tools.RegisterShopTools(registry, sessions, search); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	// Chain last so a credential failure aborts before anything else
	// touches the network.
	chain, err := provider.BuildChain(provider.ChainConfig{
		Kinds:      cfg.Providers.Order,
		Models:     cfg.Providers.Models,
		Timeout:    time.Duration(cfg.Providers.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Providers.MaxRetries,
		Logger:     zl,
	})
	if err != nil {
		return fmt.Errorf("failed to build provider chain: %w", err)
	}

	transcripts, err := session.New(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		return fmt.Errorf("failed to initialize transcripts: %w", err)
	}
	defer transcripts.Close()

	loop, err := agent.New(agent.Config{
		Chain:       chain,
		Registry:    registry,
		Transcripts: transcripts,
		Logger:      zl,
		MaxTurns:    cfg.Agent.MaxTurns,
		Temperature: cfg.Agent.Temperature,
		MaxTokens:   cfg.Agent.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize agent loop: %w", err)
	}

	queue := commandqueue.New()
	defer queue.Close()

	chatService, err := chat.New(loop, queue, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize chat service: %w", err)
	}

	server, err := gateway.New(gateway.Config{
		Addr:   fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Chat:   chatService,
		Logger: zl,
		Health: gateway.HealthReporter{
			StoreMode: sessions.Mode,
			ChainSize: chain.Size,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	var scheduler *cron.Cron
	if cfg.Retention.Enabled {
		maxAge, err := time.ParseDuration(cfg.Retention.MaxAge)
		if err != nil {
			return fmt.Errorf("invalid retention max_age: %w", err)
		}
		scheduler = cron.New()
		_, err = scheduler.AddFunc(cfg.Retention.Schedule, func() {
			pruned, err := transcripts.Prune(maxAge)
			if err != nil {
				zl.Error().Err(err).Msg("Transcript pruning failed")
				return
			}
			zl.Info().Int("pruned", pruned).Msg("Transcript pruning completed")
		})
		if err != nil {
			return fmt.Errorf("invalid retention schedule: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	zl.Info().
		Str("store_mode", sessions.Mode()).
		Int("providers", chain.Size()).
		Msg("Clerk started")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error().Err(err).Msg("Gateway shutdown failed")
	}
	queue.WaitForActive(30 * time.Second)

	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		zl.Warn().Err(err).Msg("OpenTelemetry shutdown failed")
	}

	return nil
}
