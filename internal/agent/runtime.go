// Package agent implements the consumer-side runtime for a federated agent:
// one identity bound to one mailbox, answering task requests through a
// pluggable task handler.
package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/couriermq/courier/pkg/federation"
)

// TaskHandler is the single piece of business logic an agent plugs into the
// runtime. Implementations typically format a prompt from the payload, invoke
// an external model call, and return a structured result. The call may take
// arbitrarily long and may fail; the runtime converts failures into error
// envelopes rather than letting them reach the transport.
type TaskHandler interface {
	ProcessTask(ctx context.Context, taskType federation.TaskType, payload map[string]any) (map[string]any, error)
}

// Runtime binds one agent identity to its mailbox and dispatches incoming
// messages. A runtime has exactly two states: idle (constructed) and running
// (inside Start); Start blocks until its context is cancelled.
type Runtime struct {
	agent   federation.AgentType
	client  *federation.Client
	handler TaskHandler
	logger  *zap.Logger
}

// New creates a runtime for the given agent identity. A nil logger defaults
// to a no-op logger.
func New(agent federation.AgentType, client *federation.Client, handler TaskHandler, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		agent:   agent,
		client:  client,
		handler: handler,
		logger:  logger.With(zap.String("component", "agent"), zap.String("agent", string(agent))),
	}
}

// HandleMessage dispatches one incoming message by type:
//
//   - task_request: runs the task handler; a success becomes a task_response,
//     a handler failure becomes an error envelope. The failure is communicated
//     through the response, never by propagating the error to the consumer
//     loop, so one failing task cannot drop other queued work.
//   - heartbeat: answered immediately with a status_update naming this agent
//     as alive; the task handler is not invoked.
//   - anything else: no reply.
func (r *Runtime) HandleMessage(ctx context.Context, m *federation.Message) *federation.Message {
	switch m.MessageType {
	case federation.MessageTypeTaskRequest:
		return r.handleTaskRequest(ctx, m)

	case federation.MessageTypeHeartbeat:
		reply := federation.NewMessage(federation.MessageTypeStatusUpdate, r.agent, m.SourceAgent, map[string]any{
			"status": "alive",
			"agent":  string(r.agent),
		})
		reply.CorrelationID = m.CorrelationID
		return reply

	default:
		return nil
	}
}

func (r *Runtime) handleTaskRequest(ctx context.Context, m *federation.Message) *federation.Message {
	if m.TaskType == nil {
		// Permitted by the type system, but a caller error.
		r.logger.Warn("task request without task type", zap.String("message_id", m.MessageID))
		return m.CreateResponse(map[string]any{"error": "task_request missing task_type"}, false)
	}

	result, err := r.processTask(ctx, *m.TaskType, m.Payload)
	if err != nil {
		r.logger.Warn("task failed",
			zap.String("message_id", m.MessageID),
			zap.String("task_type", string(*m.TaskType)),
			zap.Error(err))
		return m.CreateResponse(map[string]any{"error": err.Error()}, false)
	}

	r.logger.Debug("task completed",
		zap.String("message_id", m.MessageID),
		zap.String("task_type", string(*m.TaskType)))
	return m.CreateResponse(result, true)
}

// processTask shields the runtime from panicking handlers.
func (r *Runtime) processTask(ctx context.Context, taskType federation.TaskType, payload map[string]any) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &panicError{value: rec}
		}
	}()
	return r.handler.ProcessTask(ctx, taskType, payload)
}

// Start binds the runtime to its mailbox consumer loop and the broadcast
// channel, then blocks until the context is cancelled. There is no transition
// back to idle other than cancellation.
func (r *Runtime) Start(ctx context.Context) error {
	r.logger.Info("agent runtime starting")

	var wg sync.WaitGroup

	sub, err := r.client.SubscribeBroadcast(ctx)
	if err != nil {
		r.logger.Warn("broadcast subscription unavailable", zap.Error(err))
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.broadcastLoop(ctx, sub)
		}()
		defer sub.Close()
	}

	err = r.client.Consume(ctx, r.agent, func(m *federation.Message) (*federation.Message, error) {
		return r.HandleMessage(ctx, m), nil
	}, false)

	wg.Wait()
	r.logger.Info("agent runtime stopped")
	return err
}

// broadcastLoop feeds fan-out messages through the same dispatch table as
// mailbox deliveries. Broadcast replies go back through point-to-point Send.
func (r *Runtime) broadcastLoop(ctx context.Context, sub *federation.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-sub.Errors():
			if !ok {
				return
			}
			r.logger.Warn("broadcast decode failed", zap.Error(err))
		case m, ok := <-sub.Events():
			if !ok {
				return
			}
			if reply := r.HandleMessage(ctx, m); reply != nil {
				r.client.Send(ctx, reply)
			}
		}
	}
}

// SendTask submits a task request to another agent, used for agent-to-agent
// delegation in multi-agent workflows.
func (r *Runtime) SendTask(ctx context.Context, target federation.AgentType, taskType federation.TaskType, payload map[string]any, correlationID string) bool {
	m := federation.NewTaskRequest(r.agent, target, taskType, payload)
	m.CorrelationID = correlationID
	return r.client.Send(ctx, m)
}

// panicError wraps a recovered panic value from a task handler.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("task handler panicked: %v", e.value)
}
