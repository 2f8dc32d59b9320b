package admission

import "testing"

func TestIsAllowed(t *testing.T) {
	allow := New(nil) // default table

	tests := []struct {
		name    string
		command string
		want    bool
	}{
		{"allowlisted echo", "echo hi", true},
		{"surrounding whitespace trimmed", "   echo hi   ", true},
		{"allowlisted interpreter", "python -m http.server", true},
		{"allowlisted test runner", "pytest tests/", true},
		{"allowlisted vcs", "git status", true},
		{"prefix match is literal", "echoing something", true},
		{"destructive command denied", "rm -rf /", false},
		{"case sensitive", "Echo hi", false},
		{"uppercase denied", "GIT status", false},
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"embedded allowlisted word", "sudo echo hi", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := allow.IsAllowed(tt.command); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}

func TestIsAllowed_CustomTable(t *testing.T) {
	allow := New([]string{"make "})

	if !allow.IsAllowed("make build") {
		t.Error("expected make build to be allowed")
	}
	if allow.IsAllowed("makeover") {
		t.Error("trailing space in the prefix must not match makeover")
	}
	if allow.IsAllowed("echo hi") {
		t.Error("default table must not apply when a custom table is set")
	}
}

func TestIsAllowed_EmptyTableAllowsNothing(t *testing.T) {
	allow := New([]string{})

	for _, cmd := range []string{"echo hi", "git status", "pytest"} {
		if allow.IsAllowed(cmd) {
			t.Errorf("empty table must deny %q", cmd)
		}
	}
}

func TestPrefixesReturnsCopy(t *testing.T) {
	allow := New([]string{"echo"})
	got := allow.Prefixes()
	got[0] = "rm"
	if allow.IsAllowed("rm -rf /") {
		t.Error("mutating the returned slice must not change the allowlist")
	}
}
