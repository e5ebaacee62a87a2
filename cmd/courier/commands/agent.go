package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	agentpkg "github.com/couriermq/courier/internal/agent"
	"github.com/couriermq/courier/internal/printer"
	"github.com/couriermq/courier/pkg/federation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var agentCmd = &cobra.Command{
	Use:   "agent <type>",
	Short: "Run an agent runtime in the foreground",
	Long: `Run an agent runtime for the given agent type, answering task
requests with the built-in echo handler.

This is intended for local development and wiring checks. Production
agents embed the runtime and register their own task handlers; see
cmd/agent for a standalone service binary.

Example:
  courier agent local_claude`,
	Args: cobra.ExactArgs(1),
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agentType := federation.AgentType(args[0])
	if err := agentType.Validate(); err != nil {
		return printer.Error(
			fmt.Sprintf("unknown agent '%s'", args[0]),
			"The agent must be one of the registered agents.",
			nil,
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := connectClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	runtime := agentpkg.New(agentType, client, agentpkg.EchoHandler{}, logger)

	printer.Success("agent %s consuming (Ctrl+C to stop)\n", agentType)
	if err := runtime.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
