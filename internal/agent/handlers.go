package agent

import (
	"context"

	"github.com/couriermq/courier/pkg/federation"
)

// HandlerFunc adapts a plain function to one task kind's behavior.
type HandlerFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Mux routes task types to handler functions. Unrecognized task types fall
// back to a generic pass-through rather than failing, so agents tolerate
// forward-compatible task vocabularies.
type Mux struct {
	handlers map[federation.TaskType]HandlerFunc
	fallback HandlerFunc
}

// NewMux creates an empty mux whose fallback echoes the payload back.
func NewMux() *Mux {
	return &Mux{
		handlers: make(map[federation.TaskType]HandlerFunc),
	}
}

// Handle registers fn for one task type, replacing any previous registration.
func (m *Mux) Handle(taskType federation.TaskType, fn HandlerFunc) *Mux {
	m.handlers[taskType] = fn
	return m
}

// Fallback replaces the default pass-through used for unregistered task types.
func (m *Mux) Fallback(fn HandlerFunc) *Mux {
	m.fallback = fn
	return m
}

// ProcessTask implements TaskHandler.
func (m *Mux) ProcessTask(ctx context.Context, taskType federation.TaskType, payload map[string]any) (map[string]any, error) {
	if fn, ok := m.handlers[taskType]; ok {
		return fn(ctx, payload)
	}
	if m.fallback != nil {
		return m.fallback(ctx, payload)
	}
	return echo(taskType, payload), nil
}

// Typed adapts a function over a concrete payload shape into a HandlerFunc.
// The open payload map is bound and validated before fn runs, so fn never
// sees a malformed payload; binding failure becomes a handler error and the
// runtime answers with an error envelope.
func Typed[P federation.TaskPayload](taskType federation.TaskType, fn func(ctx context.Context, p P) (map[string]any, error)) HandlerFunc {
	return func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		bound, err := federation.BindPayload(taskType, payload)
		if err != nil {
			return nil, err
		}
		return fn(ctx, bound.(P))
	}
}

// HandleTyped registers a typed handler for one task type.
func HandleTyped[P federation.TaskPayload](m *Mux, taskType federation.TaskType, fn func(ctx context.Context, p P) (map[string]any, error)) *Mux {
	return m.Handle(taskType, Typed(taskType, fn))
}

func echo(taskType federation.TaskType, payload map[string]any) map[string]any {
	return map[string]any{
		"task_type": string(taskType),
		"echo":      payload,
	}
}

// EchoHandler answers every task by echoing its payload. Used by the CLI's
// smoke-test agent and in tests; real deployments plug in their own
// TaskHandler around their model calls.
type EchoHandler struct{}

// ProcessTask implements TaskHandler.
func (EchoHandler) ProcessTask(_ context.Context, taskType federation.TaskType, payload map[string]any) (map[string]any, error) {
	return echo(taskType, payload), nil
}
