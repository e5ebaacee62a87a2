package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couriermq/courier/internal/config"
	"github.com/couriermq/courier/internal/orchestrator"
	"github.com/couriermq/courier/pkg/federation"
	"go.uber.org/zap"
)

func main() {
	// 1. Resolve configuration: optional courier.yml, then environment
	var (
		cfg *config.Config
		err error
	)
	if path := os.Getenv("COURIER_CONFIG"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 2. Create federation client
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		logger.Fatal("invalid redis url", zap.Error(err))
	}

	client, err := federation.NewClient(redisOpts, cfg.Instance,
		federation.WithLogger(logger),
		federation.WithConnectRetry(cfg.Transport.ConnectAttempts, cfg.Transport.ConnectDelay),
		federation.WithMaxDeliveries(cfg.Transport.MaxDeliveries),
		federation.WithPollInterval(cfg.Transport.PollInterval),
		federation.WithConsumerTTL(cfg.Transport.ConsumerTTL),
	)
	if err != nil {
		logger.Fatal("failed to create federation client", zap.Error(err))
	}
	defer client.Close()

	// 3. Connect with bounded retries
	ctx := context.Background()
	if !client.Connect(ctx) {
		logger.Fatal("broker not reachable",
			zap.String("redis_url", cfg.Redis.URL),
			zap.Int("attempts", cfg.Transport.ConnectAttempts))
	}

	logger.Info("orchestrator starting",
		zap.String("instance", cfg.Instance),
		zap.String("redis_url", cfg.Redis.URL))

	// 4. Create orchestrator and start the response listener
	orch := orchestrator.New(client, logger,
		orchestrator.WithPollInterval(cfg.Orchestrator.PollInterval),
		orchestrator.WithWaitPollInterval(cfg.Orchestrator.WaitPollInterval),
	)
	orch.StartListener()
	defer orch.Disconnect()

	// 5. Start health check server
	healthServer := orchestrator.NewHealthServer(client, logger)
	if err := healthServer.Start(cfg.Orchestrator.HealthAddr); err != nil {
		logger.Fatal("failed to start health server", zap.Error(err))
	}
	logger.Info("health server listening", zap.String("addr", cfg.Orchestrator.HealthAddr))

	// 6. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown", zap.Error(err))
	}

	logger.Info("orchestrator stopped")
}
