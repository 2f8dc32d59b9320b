package notify

import "testing"

func TestEscapeAppleScript(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{`say "hello"`, `say \"hello\"`},
		{`path\to\file`, `path\\to\\file`},
		{`"quote" and \backslash`, `\"quote\" and \\backslash`},
		{"", ""},
	}
	for _, tt := range tests {
		got := escapeAppleScript(tt.input)
		if got != tt.want {
			t.Errorf("escapeAppleScript(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSend_SpecialCharacters(t *testing.T) {
	// Titles and messages with quoting must not panic whatever notifier the
	// host has; delivery itself depends on the environment, so the error is
	// not asserted.
	err := Send(`Test "Title"`, `Message with \backslash and "quotes"`)
	_ = err
}
