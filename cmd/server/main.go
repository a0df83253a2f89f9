package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/api"
	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/events"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
	"github.com/ignite/outreach-engine/internal/store"
	"github.com/ignite/outreach-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config failed", "path", *configPath, "error", err.Error())
		os.Exit(1)
	}

	switch cfg.Logging.Level {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
	logger.SetRedactPII(cfg.Logging.RedactPII)

	st, err := store.Open(cfg.Database.URL)
	if err != nil {
		logger.Error("connect postgres failed", "error", err.Error())
		os.Exit(1)
	}
	defer st.Close()

	if cfg.Redis.URL == "" {
		logger.Error("REDIS_URL is required for rate limiting and the poll lock")
		os.Exit(1)
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid redis URL", "error", err.Error())
		os.Exit(1)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Error("redis connection failed", "error", err.Error())
		os.Exit(1)
	}
	pingCancel()

	sender := provider.NewSendClient(provider.SendClientConfig{
		BaseURL:        cfg.Outreach.BaseURL,
		APIKey:         cfg.Outreach.APIKey,
		TimeoutSeconds: cfg.Outreach.TimeoutSeconds,
		MaxRetries:     cfg.Outreach.MaxRetries,
	})

	var analyzer provider.AnalysisProvider
	if cfg.Analysis.BaseURL != "" {
		analyzer = provider.NewAnalysisClient(provider.AnalysisClientConfig{
			BaseURL:        cfg.Analysis.BaseURL,
			APIKey:         cfg.Analysis.APIKey,
			TimeoutSeconds: cfg.Analysis.TimeoutSeconds,
			MaxRetries:     cfg.Analysis.MaxRetries,
		})
	} else {
		logger.Warn("no analysis service configured, using keyword fallback")
		analyzer = provider.KeywordAnalyzer{}
	}

	broadcaster := events.NewBroadcaster()
	limiter := worker.NewRateLimiter(redisClient, cfg.RateLimits)

	learning := worker.NewLearningUpdater(st)
	reconciler := worker.NewReconciler(st, analyzer, limiter, learning, broadcaster)
	receiver := worker.NewPushReceiver(cfg.Monitor.WebhookSigningSecret, reconciler)

	dispatcher := worker.NewDispatcher(st, sender, limiter, broadcaster, cfg.Dispatcher)
	if err := dispatcher.Start(); err != nil {
		logger.Error("start dispatcher failed", "error", err.Error())
		os.Exit(1)
	}

	pollLock := distlock.New(redisClient, st.DB(), "outreach:poll-cycle", 5*time.Minute)
	poller := worker.NewReplyPoller(st, sender, reconciler, pollLock,
		cfg.Monitor.PollInterval(), cfg.Monitor.Lookback())
	if err := poller.Start(); err != nil {
		logger.Error("start reply poller failed", "error", err.Error())
		os.Exit(1)
	}

	sweeper := worker.NewRecoverySweeper(st, 0, 0)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go sweeper.Start(sweepCtx)

	enqueuer := worker.NewBulkEnqueuer(st)

	handlers := api.NewHandlers(st, enqueuer, receiver, broadcaster, map[string]api.StatsSource{
		"dispatcher":  dispatcher,
		"poller":      poller,
		"reconciler":  reconciler,
		"receiver":    receiver,
		"enqueuer":    enqueuer,
		"sweeper":     sweeper,
		"broadcaster": broadcaster,
	})
	server := api.NewServer(cfg.Server, handlers)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err.Error())
		}
	}

	// shutdown order: stop ingesting, drain workers, finish the poll
	// cycle, then close the event stream
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err.Error())
	}

	dispatcher.Stop()
	poller.Stop()
	sweepCancel()
	broadcaster.Close()

	logger.Info("shutdown complete")
}
