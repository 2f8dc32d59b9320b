package model

import (
	"errors"
	"testing"
)

func TestParseTask(t *testing.T) {
	task, err := ParseTask("t1", []byte(`{"command": "echo hi", "requested_by": "ops"}`))
	if err != nil {
		t.Fatalf("ParseTask returned error: %v", err)
	}
	if task.ID != "t1" {
		t.Errorf("expected id t1, got %q", task.ID)
	}
	if task.Command != "echo hi" {
		t.Errorf("expected command %q, got %q", "echo hi", task.Command)
	}
	if !task.HasCommand() {
		t.Error("expected HasCommand to be true")
	}
	if task.Extra["requested_by"] != "ops" {
		t.Errorf("expected passthrough field requested_by=ops, got %v", task.Extra["requested_by"])
	}
	if _, ok := task.Extra["command"]; ok {
		t.Error("command must not leak into Extra")
	}
}

func TestParseTask_NoCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"absent", `{"note": "nothing to run"}`},
		{"explicit null", `{"command": null}`},
		{"empty string", `{"command": ""}`},
		{"whitespace only", `{"command": "   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := ParseTask("t1", []byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseTask returned error: %v", err)
			}
			if task.HasCommand() {
				t.Errorf("expected HasCommand false for %s", tt.payload)
			}
		})
	}
}

func TestParseTask_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"truncated json", `{"command": "echo`},
		{"not an object", `[1, 2, 3]`},
		{"bare scalar", `42`},
		{"command not a string", `{"command": 42}`},
		{"empty file", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTask("bad", []byte(tt.payload))
			if err == nil {
				t.Fatalf("expected error for %s", tt.payload)
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("expected *ParseError, got %T", err)
			}
			if parseErr.TaskID != "bad" {
				t.Errorf("expected task id bad, got %q", parseErr.TaskID)
			}
		})
	}
}

func TestTaskHints(t *testing.T) {
	task, err := ParseTask("t1", []byte(`{"command": "rm -rf build", "confidence": 0.3, "criticality": "high", "sensitivity": "restricted", "persona": "release-bot"}`))
	if err != nil {
		t.Fatalf("ParseTask returned error: %v", err)
	}
	h := task.Hints()
	if !h.Present {
		t.Fatal("expected hints to be present")
	}
	if h.Confidence != 0.3 || h.Criticality != "high" || h.Sensitivity != "restricted" || h.Persona != "release-bot" {
		t.Errorf("unexpected hints: %+v", h)
	}
}

func TestTaskHints_Absent(t *testing.T) {
	task, err := ParseTask("t1", []byte(`{"command": "echo hi"}`))
	if err != nil {
		t.Fatalf("ParseTask returned error: %v", err)
	}
	if h := task.Hints(); h.Present {
		t.Errorf("expected no hints, got %+v", h)
	}
}
