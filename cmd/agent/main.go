package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	agentpkg "github.com/couriermq/courier/internal/agent"
	"github.com/couriermq/courier/internal/config"
	"github.com/couriermq/courier/pkg/federation"
	"go.uber.org/zap"
)

func main() {
	// 1. Which agent is this process?
	agentType := federation.AgentType(os.Getenv("COURIER_AGENT"))
	if agentType == "" {
		fmt.Fprintf(os.Stderr, "Error: COURIER_AGENT must be set\n")
		os.Exit(1)
	}
	if err := agentType.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: unknown agent %q\n", agentType)
		os.Exit(1)
	}

	// 2. Resolve configuration: optional courier.yml, then environment
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

	// 3. Create and connect the federation client
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if !client.Connect(ctx) {
		logger.Fatal("broker not reachable",
			zap.String("redis_url", cfg.Redis.URL),
			zap.Int("attempts", cfg.Transport.ConnectAttempts))
	}

	// 4. Run the consumer loop until signalled. The default mux echoes
	// unhandled task types; real agents register handlers per task type.
	runtime := agentpkg.New(agentType, client, agentpkg.NewMux(), logger)

	logger.Info("agent starting",
		zap.String("agent", string(agentType)),
		zap.String("instance", cfg.Instance))

	if err := runtime.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("agent runtime failed", zap.Error(err))
	}

	logger.Info("agent stopped")
}
