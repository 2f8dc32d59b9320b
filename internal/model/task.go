package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Task is a queue descriptor parsed exactly once. The filename (minus
// extension) supplies the id; the payload is a JSON object whose only
// recognized field is "command". Everything else rides along in Extra and is
// surfaced to the audit trail untouched.
type Task struct {
	ID      string
	Command string
	Extra   map[string]any
}

// ParseError marks a descriptor whose payload could not be decoded. It is
// terminal: the processor quarantines the file and never retries it.
type ParseError struct {
	TaskID string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("task %s: malformed descriptor: %v", e.TaskID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseTask decodes a descriptor payload. The payload must be a JSON object;
// a "command" field must be a string or null (null reads the same as absent).
// Any decode failure comes back as *ParseError.
func ParseTask(id string, data []byte) (*Task, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &ParseError{TaskID: id, Err: err}
	}
	t := &Task{ID: id, Extra: make(map[string]any)}
	for k, v := range payload {
		if k == "command" {
			switch cmd := v.(type) {
			case string:
				t.Command = cmd
			case nil:
				// explicit null means no command
			default:
				return nil, &ParseError{TaskID: id, Err: fmt.Errorf("command: expected string, got %T", v)}
			}
			continue
		}
		t.Extra[k] = v
	}
	return t, nil
}

// HasCommand reports whether the task carries anything executable. A blank or
// whitespace-only command counts as absent.
func (t *Task) HasCommand() bool {
	return strings.TrimSpace(t.Command) != ""
}

// GovernanceHints are optional descriptor fields consulted when a task
// escalates, so the audit entry can record the policy tier alongside the
// escalation. They never change the admission outcome.
type GovernanceHints struct {
	Confidence  float64
	Criticality string
	Sensitivity string
	Persona     string
	Present     bool
}

// Hints extracts governance hints from the passthrough fields. Present is
// false unless at least one of criticality or sensitivity was supplied.
func (t *Task) Hints() GovernanceHints {
	h := GovernanceHints{Confidence: 1.0}
	if v, ok := t.Extra["confidence"].(float64); ok {
		h.Confidence = v
	}
	if v, ok := t.Extra["criticality"].(string); ok {
		h.Criticality = v
		h.Present = true
	}
	if v, ok := t.Extra["sensitivity"].(string); ok {
		h.Sensitivity = v
		h.Present = true
	}
	if v, ok := t.Extra["persona"].(string); ok {
		h.Persona = v
	}
	return h
}
