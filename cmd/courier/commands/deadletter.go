package commands

import (
	"context"
	"fmt"

	"github.com/couriermq/courier/internal/printer"
	"github.com/couriermq/courier/pkg/federation"
	"github.com/spf13/cobra"
)

var deadletterLimit int64

var deadletterCmd = &cobra.Command{
	Use:   "deadletter <agent>",
	Short: "Inspect an agent's dead-letter queue",
	Long: `Print raw message bodies from an agent's dead-letter queue,
newest first.

Bodies land here after exhausting their delivery budget or when they
cannot be decoded at all, so they are printed verbatim rather than
re-parsed.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeadletter,
}

func init() {
	deadletterCmd.Flags().Int64VarP(&deadletterLimit, "limit", "l", 10, "Maximum number of bodies to print")
	rootCmd.AddCommand(deadletterCmd)
}

func runDeadletter(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	agent := federation.AgentType(args[0])
	if err := agent.Validate(); err != nil {
		return printer.Error(
			fmt.Sprintf("unknown agent '%s'", args[0]),
			"The agent must be one of the registered agents.",
			[]string{"See which queues exist:\n  courier stats"},
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

	bodies, err := client.DeadLetters(ctx, agent, deadletterLimit)
	if err != nil {
		return err
	}

	if len(bodies) == 0 {
		printer.Success("no dead letters for %s\n", agent)
		return nil
	}

	printer.Heading("Dead letters for %s (%d shown)", agent, len(bodies))
	for i, body := range bodies {
		printer.Printf("%3d  %s\n", i+1, body)
	}
	return nil
}
