package commands

import (
	"context"
	"time"

	"github.com/couriermq/courier/internal/orchestrator"
	"github.com/couriermq/courier/internal/printer"
	"github.com/couriermq/courier/pkg/federation"
	"github.com/spf13/cobra"
)

var healthWait time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe agent health",
	Long: `Probe the health of every worker agent.

Sends a heartbeat to each agent's mailbox and reports two signals: the
consumer count on the agent's queue (is anyone listening?) and any
status_update replies that arrive within the wait window (is the
listener actually processing?).`,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().DurationVar(&healthWait, "wait", 2*time.Second, "How long to wait for heartbeat replies")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
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

	orch := orchestrator.New(client, nil,
		orchestrator.WithPollInterval(cfg.Orchestrator.PollInterval),
	)
	defer orch.Disconnect()
	orch.StartListener()

	health := orch.CheckAgentHealth(ctx)

	// Heartbeat replies arrive asynchronously on the listener.
	time.Sleep(healthWait)
	statuses := orch.AgentStatuses()

	printer.Heading("Agent health (instance %q)", cfg.Instance)
	allHealthy := true
	for _, agent := range federation.WorkerAgents() {
		verdict := health[string(agent)]
		line := verdict
		if st, ok := statuses[agent]; ok {
			line += ", replied " + st.LastSeen.UTC().Format(time.RFC3339)
		}
		printer.Field(string(agent), line)
		if verdict != "healthy" {
			allHealthy = false
		}
	}

	printer.Println()
	if allHealthy {
		printer.Success("all agents have live consumers\n")
	} else {
		printer.Warning("some agents have no consumers\n")
	}
	return nil
}
