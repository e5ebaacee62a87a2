package federation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of envelope being exchanged.
type MessageType string

const (
	// MessageTypeTaskRequest asks an agent to perform a task
	MessageTypeTaskRequest MessageType = "task_request"

	// MessageTypeTaskResponse carries a successful task result back to the requester
	MessageTypeTaskResponse MessageType = "task_response"

	// MessageTypeStatusUpdate carries agent liveness or progress information
	MessageTypeStatusUpdate MessageType = "status_update"

	// MessageTypeError carries a failed task result back to the requester
	MessageTypeError MessageType = "error"

	// MessageTypeHeartbeat probes an agent for liveness
	MessageTypeHeartbeat MessageType = "heartbeat"
)

// AgentType identifies a participant in the federated system.
// Each agent type owns exactly one durable mailbox.
type AgentType string

const (
	// AgentLocalClaude is the local Claude-backed agent (reasoning, code review)
	AgentLocalClaude AgentType = "local_claude"

	// AgentLocalOpenAI is the local ChatGPT-backed agent (content, brainstorming)
	AgentLocalOpenAI AgentType = "local_openai"

	// AgentCloudGemini is the cloud Gemini-backed agent (data analysis, research)
	AgentCloudGemini AgentType = "cloud_gemini"

	// AgentOrchestrator is the control plane identity
	AgentOrchestrator AgentType = "orchestrator"
)

// KnownAgents returns every agent identity in the system, orchestrator included.
// The transport declares one mailbox per entry.
func KnownAgents() []AgentType {
	return []AgentType{AgentLocalClaude, AgentLocalOpenAI, AgentCloudGemini, AgentOrchestrator}
}

// WorkerAgents returns the agent identities that accept task requests
// (every known agent except the orchestrator).
func WorkerAgents() []AgentType {
	return []AgentType{AgentLocalClaude, AgentLocalOpenAI, AgentCloudGemini}
}

// TaskType identifies the kind of work a task request carries.
type TaskType string

const (
	TaskCodeReview         TaskType = "code_review"
	TaskArchitectureDesign TaskType = "architecture_design"
	TaskContentGeneration  TaskType = "content_generation"
	TaskBrainstorming      TaskType = "brainstorming"
	TaskDataAnalysis       TaskType = "data_analysis"
	TaskWebResearch        TaskType = "web_research"
	TaskMultiAgent         TaskType = "multi_agent_task"
)

// Priority is a three-level delivery priority hint. Higher priorities are
// drained from a mailbox before lower ones.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Message is the envelope for all agent-to-agent communication. Messages are
// constructed by the sender, serialized to JSON for the wire, and either
// discarded by the receiver or answered with exactly one response created via
// CreateResponse.
type Message struct {
	MessageID     string         `json:"message_id"`     // UUID, unique for the system's lifetime
	MessageType   MessageType    `json:"message_type"`   // Envelope kind
	SourceAgent   AgentType      `json:"source_agent"`   // Sender identity
	TargetAgent   AgentType      `json:"target_agent"`   // Mailbox this routes to
	TaskType      *TaskType      `json:"task_type"`      // Required for task_request, nil otherwise
	Payload       map[string]any `json:"payload"`        // Open mapping, semantics owned by the task type
	CorrelationID string         `json:"correlation_id"` // Links a response to its originating request
	Priority      Priority       `json:"priority"`       // Delivery priority hint
	Timestamp     string         `json:"timestamp"`      // Creation time, UTC, RFC 3339
	RetryCount    int            `json:"retry_count"`    // Carried on the wire, not incremented by core components
}

// NewMessage constructs a Message with a fresh message ID and UTC timestamp.
// Priority defaults to medium; callers set TaskType, CorrelationID and
// Priority directly when needed.
func NewMessage(messageType MessageType, source, target AgentType, payload map[string]any) *Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Message{
		MessageID:   uuid.New().String(),
		MessageType: messageType,
		SourceAgent: source,
		TargetAgent: target,
		Payload:     payload,
		Priority:    PriorityMedium,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// NewTaskRequest constructs a task_request Message for the given task type.
func NewTaskRequest(source, target AgentType, taskType TaskType, payload map[string]any) *Message {
	m := NewMessage(MessageTypeTaskRequest, source, target, payload)
	m.TaskType = &taskType
	return m
}

// CreateResponse builds the reply to this message: a task_response on success
// or an error envelope on failure. Source and target are swapped, the task
// type is carried over, and the correlation ID is inherited (falling back to
// this message's own ID so responses always correlate to something).
func (m *Message) CreateResponse(result map[string]any, success bool) *Message {
	messageType := MessageTypeTaskResponse
	if !success {
		messageType = MessageTypeError
	}

	correlationID := m.CorrelationID
	if correlationID == "" {
		correlationID = m.MessageID
	}

	resp := NewMessage(messageType, m.TargetAgent, m.SourceAgent, map[string]any{
		"success": success,
		"result":  result,
	})
	resp.TaskType = m.TaskType
	resp.CorrelationID = correlationID
	resp.Priority = m.Priority
	return resp
}

// Validate checks the message's enum fields and the task_request/task_type
// pairing. Transport layers call this on both send and receive.
func (m *Message) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}

	if err := m.MessageType.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	if err := m.SourceAgent.Validate(); err != nil {
		return fmt.Errorf("invalid source agent: %w", err)
	}

	if err := m.TargetAgent.Validate(); err != nil {
		return fmt.Errorf("invalid target agent: %w", err)
	}

	if m.TaskType != nil {
		if err := m.TaskType.Validate(); err != nil {
			return fmt.Errorf("invalid task type: %w", err)
		}
	}

	if m.MessageType == MessageTypeTaskRequest && m.TaskType == nil {
		return fmt.Errorf("task_request requires a task type")
	}

	if err := m.Priority.Validate(); err != nil {
		return fmt.Errorf("invalid priority: %w", err)
	}

	return nil
}

// Validate checks if the MessageType is a valid enum value.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeTaskRequest, MessageTypeTaskResponse,
		MessageTypeStatusUpdate, MessageTypeError, MessageTypeHeartbeat:
		return nil
	default:
		return fmt.Errorf("unknown message type: %q", mt)
	}
}

// Validate checks if the AgentType is a valid enum value.
func (at AgentType) Validate() error {
	switch at {
	case AgentLocalClaude, AgentLocalOpenAI, AgentCloudGemini, AgentOrchestrator:
		return nil
	default:
		return fmt.Errorf("unknown agent type: %q", at)
	}
}

// Validate checks if the TaskType is a valid enum value.
func (tt TaskType) Validate() error {
	switch tt {
	case TaskCodeReview, TaskArchitectureDesign, TaskContentGeneration,
		TaskBrainstorming, TaskDataAnalysis, TaskWebResearch, TaskMultiAgent:
		return nil
	default:
		return fmt.Errorf("unknown task type: %q", tt)
	}
}

// Validate checks if the Priority is a valid enum value.
func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return nil
	default:
		return fmt.Errorf("unknown priority: %q", p)
	}
}
