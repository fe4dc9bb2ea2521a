package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlquery/nlquery/internal/api"
	"github.com/nlquery/nlquery/internal/auth"
	"github.com/nlquery/nlquery/internal/catalog"
	"github.com/nlquery/nlquery/internal/config"
	"github.com/nlquery/nlquery/internal/nl2sql"
	"github.com/nlquery/nlquery/internal/observability"
	"github.com/nlquery/nlquery/internal/pipeline"
	"github.com/nlquery/nlquery/internal/query"
	"github.com/nlquery/nlquery/internal/ratelimit"
	"github.com/nlquery/nlquery/internal/voice"
)

func main() {
	cfg, err := config.LoadFromEnv("nlquery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open database backend", slog.String("driver", cfg.Database.Driver), slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.close()

	completer, err := nl2sql.NewOpenAICompleter(nl2sql.OpenAIConfig{
		BaseURL: cfg.Completion.BaseURL,
		APIKey:  cfg.Completion.APIKey,
		Model:   cfg.Completion.Model,
		Timeout: cfg.Completion.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize completion client", slog.Any("error", err))
		os.Exit(1)
	}

	generation := nl2sql.DefaultGenerationConfig()
	generation.MaxTokens = cfg.Completion.MaxTokens
	generation.Temperature = cfg.Completion.Temperature
	generation.TopP = cfg.Completion.TopP
	generation.RepetitionPenalty = cfg.Completion.RepetitionPenalty

	schemaCache := catalog.NewCachedIntrospector(backend.introspector, cfg.Pipeline.SchemaCacheTTL)
	if backend.reload != nil {
		go reloadOnHangup(ctx, logger, backend.reload, schemaCache)
	}

	service, err := pipeline.New(pipeline.Dependencies{
		Introspector: schemaCache,
		Completer:    &nl2sql.RetryingCompleter{Next: completer, Attempts: cfg.Completion.Attempts, Backoff: 500 * time.Millisecond},
		Gateway:      query.NewGateway(backend.engine, cfg.Pipeline.ExecutionTimeout),
		History:      backend.history,
		Logger:       logger,
	}, pipeline.Config{
		MaxQuestionLength: cfg.Pipeline.MaxQuestionLength,
		CompletionTimeout: cfg.Completion.Timeout,
		Generation:        generation,
		AnchorTable:       cfg.Pipeline.AnchorTable,
		AnchorAlias:       cfg.Pipeline.AnchorAlias,
	})
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Pipeline:          service,
		History:           backend.history,
		Readiness:         backend.readiness,
		DependencyTimeout: time.Second,
	}

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			Window:  cfg.RateLimit.Window,
			Max:     cfg.RateLimit.Max,
			MaxKeys: cfg.RateLimit.MaxKeys,
		})
		go limiter.Run(ctx, cfg.RateLimit.SweepInterval)
		deps.Limiter = limiter
	}

	if cfg.Voice.Enabled {
		assistant, err := newVoiceAssistant(cfg, logger)
		if err != nil {
			logger.Error("failed to initialize voice input", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Voice = assistant
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		if validator.Len() == 0 {
			logger.Warn("auth required but no static keys configured; every protected request will be rejected")
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("driver", cfg.Database.Driver),
			slog.String("model", completer.Model()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func newVoiceAssistant(cfg config.Config, logger *slog.Logger) (*voice.Assistant, error) {
	capturer, err := voice.NewCommandCapturer(cfg.Voice.CaptureCommand)
	if err != nil {
		return nil, err
	}
	var speaker voice.Speaker
	if cfg.Voice.SpeakCommand != "" {
		commandSpeaker, err := voice.NewCommandSpeaker(cfg.Voice.SpeakCommand)
		if err != nil {
			return nil, err
		}
		speaker = commandSpeaker
	}
	return voice.NewAssistant(capturer, speaker, voice.Options{
		MaxAttempts:    cfg.Voice.MaxAttempts,
		AnnounceLimit:  cfg.Voice.AnnounceLimit,
		ListenTimeout:  cfg.Voice.ListenTimeout,
		ConfirmTimeout: cfg.Voice.ConfirmTimeout,
		Logger:         logger,
	}), nil
}

// reloadOnHangup reloads the dataset on SIGHUP and drops the cached schema so
// the next prompt describes the new tables.
func reloadOnHangup(ctx context.Context, logger *slog.Logger, reload func(context.Context) error, schemaCache *catalog.CachedIntrospector) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hangup:
			if err := reload(ctx); err != nil {
				logger.Error("dataset reload failed", slog.Any("error", err))
				continue
			}
			schemaCache.Invalidate()
		}
	}
}
