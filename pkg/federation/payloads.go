package federation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TaskPayload is the validated, concrete shape of a task request payload.
// The wire format stays an open map; BindPayload is the boundary where the
// map becomes one of these types.
type TaskPayload interface {
	// Kind returns the task type this payload shape belongs to.
	Kind() TaskType
	// Validate reports whether required fields are present.
	Validate() error
}

// CodeReviewPayload asks for a review of a piece of source code.
type CodeReviewPayload struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

func (p *CodeReviewPayload) Kind() TaskType { return TaskCodeReview }

func (p *CodeReviewPayload) Validate() error {
	if p.Code == "" {
		return fmt.Errorf("code_review payload: code is required")
	}
	return nil
}

func (p *CodeReviewPayload) applyDefaults() {
	if p.Language == "" {
		p.Language = "python"
	}
}

// ArchitectureDesignPayload asks for a system design from requirements.
type ArchitectureDesignPayload struct {
	Requirements string `json:"requirements"`
}

func (p *ArchitectureDesignPayload) Kind() TaskType { return TaskArchitectureDesign }

func (p *ArchitectureDesignPayload) Validate() error {
	if p.Requirements == "" {
		return fmt.Errorf("architecture_design payload: requirements is required")
	}
	return nil
}

// ContentGenerationPayload asks for written content on a topic.
type ContentGenerationPayload struct {
	Topic  string `json:"topic"`
	Format string `json:"format,omitempty"`
	Length string `json:"length,omitempty"`
}

func (p *ContentGenerationPayload) Kind() TaskType { return TaskContentGeneration }

func (p *ContentGenerationPayload) Validate() error {
	if p.Topic == "" {
		return fmt.Errorf("content_generation payload: topic is required")
	}
	return nil
}

func (p *ContentGenerationPayload) applyDefaults() {
	if p.Format == "" {
		p.Format = "article"
	}
	if p.Length == "" {
		p.Length = "medium"
	}
}

// BrainstormingPayload asks for a number of ideas on a topic.
type BrainstormingPayload struct {
	Topic string `json:"topic"`
	Ideas int    `json:"ideas,omitempty"`
}

func (p *BrainstormingPayload) Kind() TaskType { return TaskBrainstorming }

func (p *BrainstormingPayload) Validate() error {
	if p.Topic == "" {
		return fmt.Errorf("brainstorming payload: topic is required")
	}
	return nil
}

func (p *BrainstormingPayload) applyDefaults() {
	if p.Ideas == 0 {
		p.Ideas = 5
	}
}

// DataAnalysisPayload asks for an analysis over inline data.
type DataAnalysisPayload struct {
	Data         string `json:"data"`
	AnalysisType string `json:"analysis_type,omitempty"`
}

func (p *DataAnalysisPayload) Kind() TaskType { return TaskDataAnalysis }

func (p *DataAnalysisPayload) Validate() error {
	if p.Data == "" {
		return fmt.Errorf("data_analysis payload: data is required")
	}
	return nil
}

func (p *DataAnalysisPayload) applyDefaults() {
	if p.AnalysisType == "" {
		p.AnalysisType = "summary"
	}
}

// WebResearchPayload asks for research on a query.
type WebResearchPayload struct {
	Query string `json:"query"`
}

func (p *WebResearchPayload) Kind() TaskType { return TaskWebResearch }

func (p *WebResearchPayload) Validate() error {
	if p.Query == "" {
		return fmt.Errorf("web_research payload: query is required")
	}
	return nil
}

// MultiAgentPayload carries a free-form prompt for a multi-step workflow.
type MultiAgentPayload struct {
	Prompt string `json:"prompt"`
}

func (p *MultiAgentPayload) Kind() TaskType { return TaskMultiAgent }

func (p *MultiAgentPayload) Validate() error {
	if p.Prompt == "" {
		return fmt.Errorf("multi_agent_task payload: prompt is required")
	}
	return nil
}

// BindPayload converts an open payload map into the concrete shape for the
// given task type, filling defaults and validating required fields. Returns a
// *DecodeError when the map does not fit the shape, so callers at the consumer
// boundary can classify it alongside envelope decode failures.
func BindPayload(taskType TaskType, payload map[string]any) (TaskPayload, error) {
	var p TaskPayload
	switch taskType {
	case TaskCodeReview:
		p = &CodeReviewPayload{}
	case TaskArchitectureDesign:
		p = &ArchitectureDesignPayload{}
	case TaskContentGeneration:
		p = &ContentGenerationPayload{}
	case TaskBrainstorming:
		p = &BrainstormingPayload{}
	case TaskDataAnalysis:
		p = &DataAnalysisPayload{}
	case TaskWebResearch:
		p = &WebResearchPayload{}
	case TaskMultiAgent:
		p = &MultiAgentPayload{}
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("no payload shape for task type %q", taskType)}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &DecodeError{Reason: "payload not encodable", Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("payload does not fit %s shape", taskType), Err: err}
	}

	if d, ok := p.(interface{ applyDefaults() }); ok {
		d.applyDefaults()
	}
	if err := p.Validate(); err != nil {
		return nil, &DecodeError{Reason: "invalid payload", Err: err}
	}
	return p, nil
}

// PayloadMap flattens a typed payload back into the open map form the wire
// carries. Validates first so malformed payloads are caught at construction.
func PayloadMap(p TaskPayload) (map[string]any, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewTypedTaskRequest builds a task request from a typed payload, validating
// it at construction.
func NewTypedTaskRequest(source, target AgentType, p TaskPayload) (*Message, error) {
	m, err := PayloadMap(p)
	if err != nil {
		return nil, err
	}
	return NewTaskRequest(source, target, p.Kind(), m), nil
}
