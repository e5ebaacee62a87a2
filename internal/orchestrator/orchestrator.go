// Package orchestrator implements the control plane of the federated agent
// system: task submission, correlation tracking, synchronous waits, workflow
// sequencing, and agent health monitoring.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/couriermq/courier/pkg/federation"
)

// TaskState is the orchestrator-local lifecycle of a submitted task.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// Terminal reports whether the state is an end state.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskStatus tracks one submitted task. Held only in orchestrator memory,
// never transmitted; reclaimed by ClearCompletedTasks.
type TaskStatus struct {
	TaskID      string               `json:"task_id"` // The request's message ID
	TaskType    federation.TaskType  `json:"task_type"`
	TargetAgent federation.AgentType `json:"target_agent"`
	Status      TaskState            `json:"status"`
	SubmittedAt time.Time            `json:"submitted_at"`
	CompletedAt time.Time            `json:"completed_at,omitempty"`
	Result      map[string]any       `json:"result,omitempty"`
}

// AgentStatus records the latest liveness information received from an agent,
// fed by status_update replies to heartbeats.
type AgentStatus struct {
	Agent    federation.AgentType `json:"agent"`
	Status   string               `json:"status"`
	LastSeen time.Time            `json:"last_seen"`
}

// ResponseHandler is a one-shot callback registered at submission time and
// invoked at most once when the matching response arrives.
type ResponseHandler func(*federation.Message)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval sets the response listener's idle sleep.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithWaitPollInterval sets how often WaitForTask re-checks the task table.
func WithWaitPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.waitPoll = d
		}
	}
}

// Orchestrator is the control-plane client. It owns one transport client, a
// background response listener, and the in-memory task table. Construct one
// explicitly per process; there is no package-level singleton.
type Orchestrator struct {
	client *federation.Client
	logger *zap.Logger

	pollInterval time.Duration
	waitPoll     time.Duration

	mu          sync.RWMutex
	tasks       map[string]*TaskStatus
	handlers    map[string]ResponseHandler
	agentStatus map[federation.AgentType]AgentStatus

	listenOnce sync.Once
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates an orchestrator over the given transport client. A nil logger
// defaults to a no-op logger.
func New(client *federation.Client, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		client:       client,
		logger:       logger.With(zap.String("component", "orchestrator")),
		pollInterval: 100 * time.Millisecond,
		waitPoll:     50 * time.Millisecond,
		tasks:        make(map[string]*TaskStatus),
		handlers:     make(map[string]ResponseHandler),
		agentStatus:  make(map[federation.AgentType]AgentStatus),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Connect establishes the transport connection. Returns false, never an
// error, when the transport's retry budget is exhausted.
func (o *Orchestrator) Connect(ctx context.Context) bool {
	return o.client.Connect(ctx)
}

// Disconnect stops the response listener and releases the transport.
func (o *Orchestrator) Disconnect() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.client.Close()
	o.logger.Info("disconnected")
}

// StartListener spawns the background goroutine that polls the orchestrator
// mailbox and routes responses to HandleResponse. Idempotent; runs until
// Disconnect.
func (o *Orchestrator) StartListener() {
	o.listenOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		o.cancel = cancel

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.listen(ctx)
		}()
		o.logger.Info("response listener started")
	})
}

func (o *Orchestrator) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m := o.client.GetOne(ctx, federation.AgentOrchestrator)
		if m == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.pollInterval):
			}
			continue
		}

		o.HandleResponse(m)
	}
}

// HandleResponse processes one message from the orchestrator mailbox.
// Responses with a correlation ID matching a tracked task mark it completed
// (task_response) or failed (error) and fire the task's one-shot callback.
// A response for an unknown correlation ID is silently dropped: the
// orchestrator may have been restarted independently of in-flight agents.
// status_update messages refresh the agent liveness table.
func (o *Orchestrator) HandleResponse(m *federation.Message) {
	switch m.MessageType {
	case federation.MessageTypeTaskResponse, federation.MessageTypeError:
		o.resolveTask(m)

	case federation.MessageTypeStatusUpdate:
		o.recordAgentStatus(m)

	default:
		o.logger.Debug("ignoring message", zap.String("type", string(m.MessageType)))
	}
}

func (o *Orchestrator) resolveTask(m *federation.Message) {
	o.mu.Lock()

	var handler ResponseHandler
	task, tracked := o.tasks[m.CorrelationID]
	if tracked && !task.Status.Terminal() {
		if m.MessageType == federation.MessageTypeTaskResponse {
			task.Status = TaskCompleted
		} else {
			task.Status = TaskFailed
		}
		task.Result = m.Payload
		task.CompletedAt = time.Now().UTC()
	}

	// Pop the callback under the lock so a duplicate response can never
	// fire it a second time.
	if h, ok := o.handlers[m.CorrelationID]; ok {
		handler = h
		delete(o.handlers, m.CorrelationID)
	}
	o.mu.Unlock()

	if !tracked {
		o.logger.Debug("response for unknown correlation ID dropped",
			zap.String("correlation_id", m.CorrelationID))
	}

	if handler != nil {
		handler(m)
	}
}

func (o *Orchestrator) recordAgentStatus(m *federation.Message) {
	status, _ := m.Payload["status"].(string)
	if status == "" {
		status = "unknown"
	}

	o.mu.Lock()
	o.agentStatus[m.SourceAgent] = AgentStatus{
		Agent:    m.SourceAgent,
		Status:   status,
		LastSeen: time.Now().UTC(),
	}
	o.mu.Unlock()

	o.logger.Debug("agent status recorded",
		zap.String("agent", string(m.SourceAgent)),
		zap.String("status", status))
}

// SubmitTask sends a task_request to the target agent and starts tracking it.
// The returned task ID is the request's message ID; an empty string signals
// failure (unknown target or transport send failure) and no exception-style
// propagation happens. An unknown target fails fast without contacting the
// transport.
func (o *Orchestrator) SubmitTask(
	ctx context.Context,
	target federation.AgentType,
	taskType federation.TaskType,
	payload map[string]any,
	priority federation.Priority,
	onComplete ResponseHandler,
) string {
	if err := target.Validate(); err != nil {
		o.logger.Warn("submit to unknown target", zap.String("target", string(target)))
		return ""
	}

	m := federation.NewTaskRequest(federation.AgentOrchestrator, target, taskType, payload)
	m.CorrelationID = m.MessageID
	if priority.Validate() == nil {
		m.Priority = priority
	}

	task := &TaskStatus{
		TaskID:      m.MessageID,
		TaskType:    taskType,
		TargetAgent: target,
		Status:      TaskPending,
		SubmittedAt: time.Now().UTC(),
	}

	o.mu.Lock()
	o.tasks[m.MessageID] = task
	if onComplete != nil {
		o.handlers[m.MessageID] = onComplete
	}
	o.mu.Unlock()

	if !o.client.Send(ctx, m) {
		o.mu.Lock()
		task.Status = TaskFailed
		task.Result = map[string]any{"error": "send failed"}
		task.CompletedAt = time.Now().UTC()
		delete(o.handlers, m.MessageID)
		o.mu.Unlock()
		return ""
	}

	o.markProcessing(m.MessageID)

	o.logger.Info("task submitted",
		zap.String("task_id", m.MessageID),
		zap.String("task_type", string(taskType)),
		zap.String("target", string(target)))
	return m.MessageID
}

// markProcessing advances a task to processing after a successful send. The
// listener can record the response in the window between Send returning and
// this lock acquisition; a terminal status always wins.
func (o *Orchestrator) markProcessing(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if task, ok := o.tasks[taskID]; ok && !task.Status.Terminal() {
		task.Status = TaskProcessing
	}
}

// GetTaskStatus returns a snapshot of one tracked task, or nil if unknown.
func (o *Orchestrator) GetTaskStatus(taskID string) *TaskStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	task, ok := o.tasks[taskID]
	if !ok {
		return nil
	}
	snapshot := *task
	return &snapshot
}

// GetAllTasks returns snapshots of every tracked task, oldest first.
func (o *Orchestrator) GetAllTasks() []TaskStatus {
	o.mu.RLock()
	tasks := make([]TaskStatus, 0, len(o.tasks))
	for _, task := range o.tasks {
		tasks = append(tasks, *task)
	}
	o.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].SubmittedAt.Before(tasks[j].SubmittedAt)
	})
	return tasks
}

// WaitForTask polls the task table until the task reaches a terminal state or
// the timeout elapses. Returns the result mapping, or nil on timeout or
// unknown task ID. The task may still complete after a timeout; the listener
// keeps recording it and GetTaskStatus will show the late result.
func (o *Orchestrator) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) map[string]any {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if task := o.GetTaskStatus(taskID); task != nil && task.Status.Terminal() {
			return task.Result
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.waitPoll):
		}
	}
	return nil
}

// SubmitAndWait composes SubmitTask and WaitForTask.
func (o *Orchestrator) SubmitAndWait(
	ctx context.Context,
	target federation.AgentType,
	taskType federation.TaskType,
	payload map[string]any,
	timeout time.Duration,
) map[string]any {
	taskID := o.SubmitTask(ctx, target, taskType, payload, federation.PriorityMedium, nil)
	if taskID == "" {
		return nil
	}
	return o.WaitForTask(ctx, taskID, timeout)
}

// CheckAgentHealth sends a heartbeat to every worker agent and evaluates
// health from queue consumer counts: "healthy" when a consumer is attached,
// "no_consumers" otherwise. This is a best-effort heuristic rather than a
// confirmed heartbeat round trip; the heartbeat replies themselves arrive
// asynchronously on the listener and are visible through AgentStatuses.
func (o *Orchestrator) CheckAgentHealth(ctx context.Context) map[string]string {
	for _, agent := range federation.WorkerAgents() {
		hb := federation.NewMessage(federation.MessageTypeHeartbeat, federation.AgentOrchestrator, agent, nil)
		hb.CorrelationID = hb.MessageID
		o.client.Send(ctx, hb)
	}

	return healthFromStats(o.client.QueueStats(ctx))
}

// healthFromStats derives the per-agent consumer-count verdict from queue
// stats without touching the broker.
func healthFromStats(stats map[string]federation.QueueInfo) map[string]string {
	health := make(map[string]string)
	for _, agent := range federation.WorkerAgents() {
		if stats[string(agent)].Consumers > 0 {
			health[string(agent)] = "healthy"
		} else {
			health[string(agent)] = "no_consumers"
		}
	}
	return health
}

// AgentStatuses returns the latest liveness records collected from
// status_update replies.
func (o *Orchestrator) AgentStatuses() map[federation.AgentType]AgentStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	statuses := make(map[federation.AgentType]AgentStatus, len(o.agentStatus))
	for agent, status := range o.agentStatus {
		statuses[agent] = status
	}
	return statuses
}

// QueueStats exposes the transport's mailbox introspection.
func (o *Orchestrator) QueueStats(ctx context.Context) map[string]federation.QueueInfo {
	return o.client.QueueStats(ctx)
}

// ClearCompletedTasks drops every task in a terminal state, bounding memory
// growth for long-running orchestrators.
func (o *Orchestrator) ClearCompletedTasks() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	cleared := 0
	for id, task := range o.tasks {
		if task.Status.Terminal() {
			delete(o.tasks, id)
			delete(o.handlers, id)
			cleared++
		}
	}
	return cleared
}
