package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/agents"
	"github.com/quayline/orchestrator/internal/auth"
	"github.com/quayline/orchestrator/internal/backend"
	"github.com/quayline/orchestrator/internal/circuitbreaker"
	"github.com/quayline/orchestrator/internal/config"
	"github.com/quayline/orchestrator/internal/executor"
	"github.com/quayline/orchestrator/internal/guard"
	"github.com/quayline/orchestrator/internal/health"
	"github.com/quayline/orchestrator/internal/httpapi"
	"github.com/quayline/orchestrator/internal/intent"
	"github.com/quayline/orchestrator/internal/llm"
	"github.com/quayline/orchestrator/internal/metrics"
	"github.com/quayline/orchestrator/internal/pipeline"
	"github.com/quayline/orchestrator/internal/plan"
	"github.com/quayline/orchestrator/internal/ratecontrol"
	"github.com/quayline/orchestrator/internal/sanitize"
	"github.com/quayline/orchestrator/internal/session"
	"github.com/quayline/orchestrator/internal/streaming"
	"github.com/quayline/orchestrator/internal/synthesis"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(cfg.Session, logger)
	if err != nil {
		logger.Fatal("session store", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	breakerCfg := circuitbreaker.Config{
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         cfg.Breaker.Interval,
		Timeout:          cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}

	backendClient := backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout, breakerCfg, logger)

	llmClient := llm.New(llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		Timeout:      cfg.LLM.Timeout,
		MaxToolSteps: cfg.LLM.MaxToolSteps,
		RequestsPS:   cfg.LLM.RequestsPS,
		Burst:        cfg.LLM.Burst,
	}, logger)

	ruleClassifier := intent.NewRuleClassifier(cfg.Intent.ConfidenceThreshold, logger)
	var classifier intent.Classifier = ruleClassifier
	if cfg.Intent.UseLLM {
		classifier = intent.NewLLMClassifier(llmClient, ruleClassifier, cfg.Intent.ConfidenceThreshold, logger)
	}

	g, err := guard.New(cfg.Guard.RulesPath, cfg.Guard.FallbackText, logger)
	if err != nil {
		logger.Fatal("guard rules", zap.Error(err))
	}
	if err := g.Watch(ctx); err != nil {
		logger.Warn("guard rule watcher unavailable", zap.Error(err))
	}

	registry := agents.NewRegistry(
		agents.NewBookingAgent(backendClient, llmClient, logger),
		agents.NewSlotAgent(backendClient, llmClient, logger),
	)

	bus := streaming.NewBus(256)
	pipe := pipeline.New(pipeline.Options{
		Store:      store,
		Sanitizer:  sanitize.New(sanitize.Config{
			MinLength:  cfg.Sanitizer.MinLength,
			MaxLength:  cfg.Sanitizer.MaxLength,
			StrictMode: cfg.Sanitizer.StrictMode,
		}, logger),
		Classifier: classifier,
		Decomposer: plan.NewDecomposer(logger),
		Executor: executor.New(registry, executor.Config{
			MaxRetries:     cfg.Executor.MaxRetries,
			InitialBackoff: cfg.Executor.InitialBackoff,
			MaxBackoff:     cfg.Executor.MaxBackoff,
			TaskTimeout:    cfg.Executor.TaskTimeout,
			MaxConcurrent:  cfg.Executor.MaxConcurrent,
		}, logger),
		Synthesizer:   synthesis.New(logger),
		Guard:         g,
		Bus:           bus,
		HistoryWindow: cfg.Session.MaxHistory,
		Logger:        logger,
	})

	authManager := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Hour)
	middleware := auth.NewMiddleware(authManager, logger)
	if cfg.Auth.SkipAuth {
		logger.Warn("auth disabled, requests without a token run as operator")
		middleware.SkipAuth()
	}

	apiMux := http.NewServeMux()
	httpapi.NewHandler(pipe, store, bus, logger).Register(apiMux)
	limiter := ratecontrol.New(cfg.Service.RequestsPS, cfg.Service.Burst, logger)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:      middleware.Wrap(limiter.Wrap(apiMux)),
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
	}

	hm := health.NewManager(logger)
	hm.Register(health.CheckerFunc{CheckerName: "session_store", Fn: func(ctx context.Context) error {
		_, err := store.ListActive(ctx)
		return err
	}})

	adminMux := http.NewServeMux()
	hm.Mount(adminMux)
	adminMux.Handle("GET /metrics", metrics.Handler())
	adminServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.MetricsPort),
		Handler: adminMux,
	}

	go func() {
		logger.Info("admin server listening", zap.Int("port", cfg.Service.MetricsPort))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("api server listening", zap.Int("port", cfg.Service.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", zap.Error(err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown", zap.Error(err))
	}
	logger.Info("bye")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func buildStore(cfg config.SessionConfig, logger *zap.Logger) (session.Store, error) {
	if cfg.RedisAddr != "" {
		logger.Info("using redis session store", zap.String("addr", cfg.RedisAddr))
		return session.NewRedisStore(cfg.RedisAddr, cfg.IdleTimeout, cfg.MaxHistory, logger)
	}
	return session.NewMemoryStore(session.MemoryOptions{
		IdleTimeout:   cfg.IdleTimeout,
		SweepInterval: cfg.SweepInterval,
		MaxHistory:    cfg.MaxHistory,
	}, logger), nil
}
