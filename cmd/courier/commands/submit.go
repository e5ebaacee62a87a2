package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/couriermq/courier/internal/orchestrator"
	"github.com/couriermq/courier/internal/printer"
	"github.com/couriermq/courier/pkg/federation"
	"github.com/spf13/cobra"
)

var (
	submitAgent    string
	submitTask     string
	submitPayload  string
	submitPriority string
	submitWait     bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task request to an agent",
	Long: `Submit a task request to a target agent's mailbox.

By default the command returns immediately with the task ID. With --wait
it blocks until the agent responds (or the configured task timeout
elapses) and prints the response payload.

Examples:
  # Fire and forget
  courier submit --agent local_claude --task code_review --payload '{"code": "print(1)"}'

  # Wait for the response
  courier submit --agent local_openai --task brainstorming --payload '{"topic": "caching"}' --wait

  # High priority
  courier submit --agent cloud_gemini --task web_research --payload '{"query": "go-redis"}' --priority high --wait`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitAgent, "agent", "a", "", "Target agent (required)")
	submitCmd.Flags().StringVarP(&submitTask, "task", "t", "", "Task type (required)")
	submitCmd.Flags().StringVarP(&submitPayload, "payload", "p", "{}", "Task payload as JSON")
	submitCmd.Flags().StringVar(&submitPriority, "priority", string(federation.PriorityMedium), "Delivery priority (low, medium, high)")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "Wait for the agent's response")
	submitCmd.MarkFlagRequired("agent")
	submitCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	target := federation.AgentType(submitAgent)
	if err := target.Validate(); err != nil {
		return printer.Error(
			fmt.Sprintf("unknown agent '%s'", submitAgent),
			"The target agent must be one of the registered agents.",
			[]string{"List agents and their consumers:\n  courier health"},
		)
	}

	taskType := federation.TaskType(submitTask)
	if err := taskType.Validate(); err != nil {
		return printer.Error(
			fmt.Sprintf("unknown task type '%s'", submitTask),
			err.Error(),
			nil,
		)
	}

	priority := federation.Priority(submitPriority)
	if err := priority.Validate(); err != nil {
		return printer.Error(
			fmt.Sprintf("unknown priority '%s'", submitPriority),
			"Priority must be low, medium or high.",
			nil,
		)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(submitPayload), &payload); err != nil {
		return printer.Error(
			"invalid payload",
			fmt.Sprintf("--payload must be a JSON object: %v", err),
			[]string{"Example:\n  courier submit --agent local_claude --task code_review --payload '{\"code\": \"x = 1\"}'"},
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

	orch := orchestrator.New(client, nil,
		orchestrator.WithPollInterval(cfg.Orchestrator.PollInterval),
		orchestrator.WithWaitPollInterval(cfg.Orchestrator.WaitPollInterval),
	)
	defer orch.Disconnect()
	orch.StartListener()

	taskID := orch.SubmitTask(ctx, target, taskType, payload, priority, nil)
	if taskID == "" {
		return printer.Error(
			"task submission failed",
			fmt.Sprintf("Could not enqueue the task for agent '%s'.", target),
			[]string{"Check broker connectivity:\n  courier health"},
		)
	}

	printer.Success("Task submitted: %s\n", taskID)

	if !submitWait {
		printer.Info("\nCorrelation ID: %s\n", taskID)
		printer.Info("Queue depths: courier stats\n")
		return nil
	}

	printer.Step("Waiting for %s (timeout %s)...\n", target, cfg.Orchestrator.TaskTimeout)
	result := orch.WaitForTask(ctx, taskID, cfg.Orchestrator.TaskTimeout)
	if result == nil {
		return printer.Error(
			"timed out waiting for response",
			fmt.Sprintf("No response from '%s' within %s.", target, cfg.Orchestrator.TaskTimeout),
			[]string{
				"Check the agent has a live consumer:\n  courier health",
				"Check the mailbox is draining:\n  courier stats",
			},
		)
	}

	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	printer.Println(string(pretty))
	return nil
}
