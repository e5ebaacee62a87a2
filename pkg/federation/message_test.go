package federation

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	t.Run("auto-fills identity and defaults", func(t *testing.T) {
		m := NewMessage(MessageTypeHeartbeat, AgentOrchestrator, AgentLocalClaude, nil)

		_, err := uuid.Parse(m.MessageID)
		assert.NoError(t, err, "message ID should be a UUID")
		assert.NotEmpty(t, m.Timestamp)
		assert.Equal(t, PriorityMedium, m.Priority)
		assert.NotNil(t, m.Payload)
		assert.Nil(t, m.TaskType)
	})

	t.Run("unique message IDs", func(t *testing.T) {
		a := NewMessage(MessageTypeHeartbeat, AgentOrchestrator, AgentLocalClaude, nil)
		b := NewMessage(MessageTypeHeartbeat, AgentOrchestrator, AgentLocalClaude, nil)
		assert.NotEqual(t, a.MessageID, b.MessageID)
	})
}

func TestNewTaskRequest(t *testing.T) {
	m := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, map[string]any{
		"code": "print('hello')",
	})

	assert.Equal(t, MessageTypeTaskRequest, m.MessageType)
	require.NotNil(t, m.TaskType)
	assert.Equal(t, TaskCodeReview, *m.TaskType)
	assert.NoError(t, m.Validate())
}

func TestMessageRoundTrip(t *testing.T) {
	original := NewTaskRequest(AgentOrchestrator, AgentLocalOpenAI, TaskContentGeneration, map[string]any{
		"topic":  "microservices",
		"format": "blog_post",
	})
	original.CorrelationID = "job-002"
	original.Priority = PriorityHigh

	data, err := original.ToJSON()
	require.NoError(t, err)

	decoded, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original, decoded)
}

func TestWireFormatFields(t *testing.T) {
	t.Run("task_type serialized as explicit null when absent", func(t *testing.T) {
		m := NewMessage(MessageTypeHeartbeat, AgentOrchestrator, AgentLocalClaude, nil)

		data, err := m.ToJSON()
		require.NoError(t, err)

		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &raw))

		taskType, present := raw["task_type"]
		require.True(t, present, "task_type field must be emitted")
		assert.Equal(t, "null", string(taskType))
	})

	t.Run("all wire fields present", func(t *testing.T) {
		m := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, map[string]any{"code": "x"})

		data, err := m.ToJSON()
		require.NoError(t, err)

		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &raw))

		for _, field := range []string{
			"message_id", "message_type", "source_agent", "target_agent",
			"task_type", "payload", "correlation_id", "priority",
			"timestamp", "retry_count",
		} {
			assert.Contains(t, raw, field)
		}
	})
}

func TestFromJSONErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{not json`},
		{"unknown message type", `{"message_id":"a1","message_type":"bogus","source_agent":"orchestrator","target_agent":"local_claude","task_type":null,"payload":{},"correlation_id":"","priority":"medium","timestamp":"","retry_count":0}`},
		{"unknown agent", `{"message_id":"a1","message_type":"heartbeat","source_agent":"martian","target_agent":"local_claude","task_type":null,"payload":{},"correlation_id":"","priority":"medium","timestamp":"","retry_count":0}`},
		{"unknown priority", `{"message_id":"a1","message_type":"heartbeat","source_agent":"orchestrator","target_agent":"local_claude","task_type":null,"payload":{},"correlation_id":"","priority":"urgent","timestamp":"","retry_count":0}`},
		{"task_request without task_type", `{"message_id":"a1","message_type":"task_request","source_agent":"orchestrator","target_agent":"local_claude","task_type":null,"payload":{},"correlation_id":"","priority":"medium","timestamp":"","retry_count":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromJSON([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, IsDecodeError(err), "expected a DecodeError, got %v", err)
		})
	}
}

func TestCreateResponse(t *testing.T) {
	t.Run("inherits correlation ID from request", func(t *testing.T) {
		req := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, nil)
		req.CorrelationID = "job-001"

		resp := req.CreateResponse(map[string]any{"review": "ok"}, true)
		assert.Equal(t, "job-001", resp.CorrelationID)
	})

	t.Run("defaults correlation ID to request message ID", func(t *testing.T) {
		req := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, nil)

		resp := req.CreateResponse(nil, true)
		assert.Equal(t, req.MessageID, resp.CorrelationID)
	})

	t.Run("swaps source and target", func(t *testing.T) {
		req := NewTaskRequest(AgentOrchestrator, AgentCloudGemini, TaskWebResearch, nil)

		resp := req.CreateResponse(nil, true)
		assert.Equal(t, req.TargetAgent, resp.SourceAgent)
		assert.Equal(t, req.SourceAgent, resp.TargetAgent)
	})

	t.Run("success produces task_response", func(t *testing.T) {
		req := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, nil)

		resp := req.CreateResponse(map[string]any{"review": "ok"}, true)
		assert.Equal(t, MessageTypeTaskResponse, resp.MessageType)
		assert.Equal(t, true, resp.Payload["success"])
		assert.Equal(t, map[string]any{"review": "ok"}, resp.Payload["result"])
	})

	t.Run("failure produces error envelope", func(t *testing.T) {
		req := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, nil)

		resp := req.CreateResponse(map[string]any{"error": "boom"}, false)
		assert.Equal(t, MessageTypeError, resp.MessageType)
		assert.Equal(t, false, resp.Payload["success"])
	})

	t.Run("carries task type and priority", func(t *testing.T) {
		req := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, nil)
		req.Priority = PriorityHigh

		resp := req.CreateResponse(nil, true)
		require.NotNil(t, resp.TaskType)
		assert.Equal(t, TaskCodeReview, *resp.TaskType)
		assert.Equal(t, PriorityHigh, resp.Priority)
	})
}

func TestMessageValidate(t *testing.T) {
	t.Run("valid task request", func(t *testing.T) {
		m := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, nil)
		assert.NoError(t, m.Validate())
	})

	t.Run("task request without task type", func(t *testing.T) {
		m := NewMessage(MessageTypeTaskRequest, AgentOrchestrator, AgentLocalClaude, nil)
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a task type")
	})

	t.Run("heartbeat without task type is fine", func(t *testing.T) {
		m := NewMessage(MessageTypeHeartbeat, AgentOrchestrator, AgentLocalClaude, nil)
		assert.NoError(t, m.Validate())
	})

	t.Run("empty message ID rejected", func(t *testing.T) {
		m := NewMessage(MessageTypeHeartbeat, AgentOrchestrator, AgentLocalClaude, nil)
		m.MessageID = ""
		assert.Error(t, m.Validate())
	})
}

func TestEnumValidation(t *testing.T) {
	assert.NoError(t, MessageTypeTaskRequest.Validate())
	assert.Error(t, MessageType("bogus").Validate())

	assert.NoError(t, AgentLocalClaude.Validate())
	assert.Error(t, AgentType("martian").Validate())

	assert.NoError(t, TaskCodeReview.Validate())
	assert.Error(t, TaskType("juggling").Validate())

	assert.NoError(t, PriorityHigh.Validate())
	assert.Error(t, Priority("urgent").Validate())
}

func TestDrainOrderIsTotal(t *testing.T) {
	// Every priority enum value maps to exactly one distinct drain position.
	order := DrainOrder()
	assert.Equal(t, []Priority{PriorityHigh, PriorityMedium, PriorityLow}, order)

	seen := make(map[Priority]bool)
	for _, p := range order {
		assert.NoError(t, p.Validate())
		assert.False(t, seen[p], "priority %s appears twice in drain order", p)
		seen[p] = true
	}
	assert.Len(t, seen, 3)
}
