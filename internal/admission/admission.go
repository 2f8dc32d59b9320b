// Package admission holds the auto-approval allowlist. Admission is a data
// check, not a policy computation: a command runs without approval only when
// it starts with one of the configured literal prefixes. Changing what is
// allowed means editing configuration, not code.
package admission

import "strings"

// DefaultPrefixes is the built-in allow table, used when the config omits
// admission.allow_prefixes entirely.
var DefaultPrefixes = []string{
	"pytest",
	"python",
	"git",
	"echo",
}

type Allowlist struct {
	prefixes []string
}

// New builds an allowlist from config data. A nil slice selects
// DefaultPrefixes; an empty non-nil slice allows nothing, which routes every
// command through approval.
func New(prefixes []string) *Allowlist {
	if prefixes == nil {
		prefixes = DefaultPrefixes
	}
	return &Allowlist{prefixes: append([]string(nil), prefixes...)}
}

// IsAllowed reports whether the command, trimmed of surrounding whitespace,
// starts with an allowlisted prefix. Comparison is a case-sensitive byte
// match; there are no wildcards and no tokenization. Empty and
// whitespace-only commands are never allowed.
func (a *Allowlist) IsAllowed(command string) bool {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return false
	}
	for _, p := range a.prefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// Prefixes returns a copy of the active table for status display.
func (a *Allowlist) Prefixes() []string {
	return append([]string(nil), a.prefixes...)
}
