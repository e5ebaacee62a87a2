package commands

import (
	"context"

	"github.com/couriermq/courier/internal/printer"
	"github.com/couriermq/courier/pkg/federation"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-agent queue statistics",
	Long: `Show mailbox depth, live consumer count and dead-letter count for
every agent queue on the instance.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := connectClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	stats := client.QueueStats(ctx)

	printer.Heading("Queue statistics (instance %q)", cfg.Instance)
	for _, agent := range federation.KnownAgents() {
		info := stats[string(agent)]
		printer.Printf("  %-14s depth=%-4d consumers=%-2d dead_lettered=%d\n",
			string(agent), info.Depth, info.Consumers, info.DeadLettered)
	}
	return nil
}
