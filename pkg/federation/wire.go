package federation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire helpers for converting Messages to and from their canonical JSON form.
//
// The wire format is field-exact: every field is emitted explicitly, with
// task_type serialized as JSON null when absent. A body that fails to decode
// or carries an enum value outside the fixed sets is a poison message; the
// consumer layer dead-letters it rather than crashing the consumer loop.

// DecodeError reports a message body that could not be decoded into a valid
// Message. Transport layers treat the offending body as a poison message.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode message: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError returns true if the error marks an undecodable message body.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// ToJSON serializes the message to its canonical wire form.
func (m *Message) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// FromJSON deserializes a wire body into a Message and validates it.
// Returns a *DecodeError on malformed JSON or enum values outside the
// fixed sets.
func FromJSON(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: err}
	}

	if m.Payload == nil {
		m.Payload = map[string]any{}
	}

	if err := m.Validate(); err != nil {
		return nil, &DecodeError{Reason: "invalid message", Err: err}
	}

	return &m, nil
}
