package commands

import (
	"context"
	"fmt"

	"github.com/couriermq/courier/internal/config"
	"github.com/couriermq/courier/internal/printer"
	"github.com/couriermq/courier/pkg/federation"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// Global flags shared by every subcommand that talks to the broker.
var (
	flagConfig   string
	flagRedisURL string
	flagInstance string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Courier - federated agent task dispatch",
	Long: `Courier routes task requests between heterogeneous AI agents over a
shared Redis broker.

Each agent owns a durable mailbox. Task requests are dispatched to a
target agent's mailbox, processed by the agent's registered handler, and
answered with exactly one correlated response. Broadcasts fan out to
every agent that is currently listening.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to courier.yml (optional)")
	rootCmd.PersistentFlags().StringVar(&flagRedisURL, "redis", "", "Redis URL (overrides config and COURIER_REDIS_URL)")
	rootCmd.PersistentFlags().StringVarP(&flagInstance, "instance", "n", "", "Instance name (overrides config and COURIER_INSTANCE)")
}

// loadConfig resolves configuration from, in increasing precedence: defaults,
// the optional config file, environment variables, then command-line flags.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}

	if flagRedisURL != "" {
		cfg.Redis.URL = flagRedisURL
	}
	if flagInstance != "" {
		cfg.Instance = flagInstance
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// connectClient builds a federation client from the resolved config and
// connects it. The caller owns the returned client and must Close it.
func connectClient(ctx context.Context, cfg *config.Config) (*federation.Client, error) {
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}

	client, err := federation.NewClient(redisOpts, cfg.Instance,
		federation.WithConnectRetry(cfg.Transport.ConnectAttempts, cfg.Transport.ConnectDelay),
		federation.WithMaxDeliveries(cfg.Transport.MaxDeliveries),
		federation.WithPollInterval(cfg.Transport.PollInterval),
		federation.WithConsumerTTL(cfg.Transport.ConsumerTTL),
	)
	if err != nil {
		return nil, err
	}

	if !client.Connect(ctx) {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			"Could not reach the broker after the configured retries.",
			map[string]string{
				"Redis":    cfg.Redis.URL,
				"Instance": cfg.Instance,
			},
			[]string{
				"Check the broker is running:\n  redis-cli -u " + cfg.Redis.URL + " ping",
				"Or point courier elsewhere:\n  courier --redis redis://host:6379/0 ...",
			},
		)
	}
	return client, nil
}
