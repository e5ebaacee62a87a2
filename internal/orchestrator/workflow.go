package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/couriermq/courier/pkg/federation"
)

// WorkflowStep is one stage of a multi-agent workflow. Each step receives the
// previous step's result as its payload; an optional Transform reshapes that
// result before submission.
type WorkflowStep struct {
	Agent     federation.AgentType
	Task      federation.TaskType
	Transform func(prev map[string]any) map[string]any
}

// StepResult records the outcome of one executed workflow step.
type StepResult struct {
	Agent  federation.AgentType `json:"agent"`
	Task   federation.TaskType  `json:"task"`
	TaskID string               `json:"task_id"`
	Result map[string]any       `json:"result"`
}

// RunWorkflow executes the steps sequentially, feeding each step's result
// into the next step's payload. It stops at the first step that fails or
// times out, returning the results of the steps that did complete alongside
// the error.
func (o *Orchestrator) RunWorkflow(
	ctx context.Context,
	steps []WorkflowStep,
	initialInput map[string]any,
	stepTimeout time.Duration,
) ([]StepResult, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("workflow has no steps")
	}

	results := make([]StepResult, 0, len(steps))
	input := initialInput

	for i, step := range steps {
		payload := input
		if step.Transform != nil {
			payload = step.Transform(input)
		}

		o.logger.Info("workflow step starting",
			zap.Int("step", i+1),
			zap.Int("steps", len(steps)),
			zap.String("agent", string(step.Agent)),
			zap.String("task", string(step.Task)))

		taskID := o.SubmitTask(ctx, step.Agent, step.Task, payload, federation.PriorityMedium, nil)
		if taskID == "" {
			return results, fmt.Errorf("workflow step %d: submit to %s failed", i+1, step.Agent)
		}

		result := o.WaitForTask(ctx, taskID, stepTimeout)
		if result == nil {
			return results, fmt.Errorf("workflow step %d: timed out waiting for %s", i+1, step.Agent)
		}

		if task := o.GetTaskStatus(taskID); task != nil && task.Status == TaskFailed {
			return results, fmt.Errorf("workflow step %d: %s reported failure", i+1, step.Agent)
		}

		results = append(results, StepResult{
			Agent:  step.Agent,
			Task:   step.Task,
			TaskID: taskID,
			Result: result,
		})
		input = unwrapResult(result)
	}

	return results, nil
}

// unwrapResult extracts the inner result from the conventional
// {"success": ..., "result": ...} response payload so the next step receives
// the agent's actual output, not the envelope wrapping.
func unwrapResult(payload map[string]any) map[string]any {
	if inner, ok := payload["result"].(map[string]any); ok {
		return inner
	}
	return payload
}
