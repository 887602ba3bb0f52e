package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"agentchat-gateway/internal/agentrun"
	"agentchat-gateway/internal/chat"
	"agentchat-gateway/internal/config"
	"agentchat-gateway/internal/handlers"
	"agentchat-gateway/internal/httpserver"
	"agentchat-gateway/internal/jobs"
	"agentchat-gateway/internal/kvs"
	"agentchat-gateway/internal/metrics"
	"agentchat-gateway/internal/tracing"
	"agentchat-gateway/pkg/logging/logging"
)

func runServe(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ----- Config -----
	cfg, warnings, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// ----- Logger -----
	logger, err := logging.NewLogger(logging.Options{Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range warnings {
		logger.Warn(w)
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("agent_endpoint", cfg.Agent.Endpoint),
		zap.Duration("wait_budget", cfg.Agent.WaitBudget),
		zap.Duration("job_ttl", cfg.Jobs.TTL),
	)

	// ----- Metrics + tracing -----
	metrics.Register()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown error", zap.Error(err))
		}
	}()

	// ----- Job store -----
	var redisClient *redis.Client
	if cfg.Store.Backend == string(kvs.BackendRedis) {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	store, backend := kvs.Open(ctx, kvs.Config{
		Backend:         cfg.Store.Backend,
		Prefix:          cfg.Store.Prefix,
		ProbeTimeout:    cfg.Store.ProbeTimeout,
		CleanupInterval: time.Minute,
	}, redisClient, logger)
	if ms, ok := store.(*kvs.MemoryStore); ok {
		defer ms.Close()
	}
	metrics.StoreBackendInfo.WithLabelValues(string(backend)).Set(1)

	machine := jobs.NewMachine(kvs.NewLoggingStore(store, backend), cfg.Jobs.TTL)

	// ----- Agent client -----
	agent, err := agentrun.NewClient(agentrun.Config{
		Endpoint:     cfg.Agent.Endpoint,
		AgentID:      cfg.Agent.AgentID,
		APIVersion:   cfg.Agent.APIVersion,
		PollInterval: cfg.Agent.PollInterval,
		WaitBudget:   cfg.Agent.WaitBudget,
	}, logger)
	if err != nil {
		return fmt.Errorf("agent client: %w", err)
	}
	if closer, ok := agent.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Handlers + router -----
	chatHandler := handlers.NewChatHandler(
		chat.NewOrchestrator(machine, agent),
		cfg.Session.CookieName,
		cfg.Session.Secure,
	)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, chatHandler, httpserver.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		SessionSecret:  []byte(cfg.Session.Secret),
		CookieName:     cfg.Session.CookieName,
		StoreBackend:   string(backend),
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("store_backend", string(backend)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ----- Graceful shutdown -----
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	// In-flight chats may be polling the agent for up to the request timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
