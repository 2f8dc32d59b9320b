// Package model defines the data structures for warden's configuration, task
// descriptors, and supervised-service state.
package model

import (
	"fmt"
	"math"
	"net/url"
	"strings"
)

type Config struct {
	Project    ProjectConfig    `yaml:"project"`
	Warden     WardenConfig     `yaml:"warden"`
	Logging    LoggingConfig    `yaml:"logging"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	Queue      QueueConfig      `yaml:"queue"`
	Admission  AdmissionConfig  `yaml:"admission"`
	Escalation EscalationConfig `yaml:"escalation"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Service    ServiceConfig    `yaml:"service"`
	Audit      AuditConfig      `yaml:"audit"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type WardenConfig struct {
	Version     string `yaml:"version"`
	Created     string `yaml:"created"`
	ProjectRoot string `yaml:"project_root"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type DaemonConfig struct {
	ScanIntervalSec    int     `yaml:"scan_interval_sec"`
	DebounceSec        float64 `yaml:"debounce_sec"`
	ShutdownTimeoutSec int     `yaml:"shutdown_timeout_sec"`
}

type QueueConfig struct {
	Shell          string `yaml:"shell"`
	ExecTimeoutSec int    `yaml:"exec_timeout_sec"` // 0 = 無制限
}

// AdmissionConfig carries the allowlist as plain data. A nil (absent) list
// selects the built-in default table; an explicitly empty list allows nothing
// and routes every command through approval.
type AdmissionConfig struct {
	AllowPrefixes []string `yaml:"allow_prefixes,omitempty"`
}

type EscalationConfig struct {
	LowThreshold  float64           `yaml:"low_threshold"`
	HighThreshold float64           `yaml:"high_threshold"`
	Weights       EscalationWeights `yaml:"weights"`
	PersonaFloors map[string]string `yaml:"persona_floors,omitempty"` // ペルソナ別の最低ティア
}

type EscalationWeights struct {
	Confidence  float64 `yaml:"confidence"`
	Criticality float64 `yaml:"criticality"`
	Sensitivity float64 `yaml:"sensitivity"`
}

type ApprovalConfig struct {
	Provider      string `yaml:"provider"` // "log" or "webhook"
	WebhookURL    string `yaml:"webhook_url,omitempty"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	DesktopNotify bool   `yaml:"desktop_notify"`
}

type ServiceConfig struct {
	Name                   string   `yaml:"name"`
	Autostart              bool     `yaml:"autostart"`
	Command                string   `yaml:"command"`
	Port                   int      `yaml:"port"`
	Env                    []string `yaml:"env,omitempty"` // KEY=VALUE, appended to the inherited environment
	HealthPath             string   `yaml:"health_path"`
	CheckIntervalSec       int      `yaml:"check_interval_sec"`
	MaxFailures            int      `yaml:"max_failures"`
	StartupProbes          int      `yaml:"startup_probes"`
	StartupProbeIntervalMs int      `yaml:"startup_probe_interval_ms"`
	ProbeTimeoutMs         int      `yaml:"probe_timeout_ms"`
	StopGraceSec           int      `yaml:"stop_grace_sec"`
}

type AuditConfig struct {
	MaxLogSizeMB   int  `yaml:"max_log_size_mb"`
	EnableChecksum bool `yaml:"enable_checksum"`
}

// DefaultConfig returns the baseline every config load starts from. Fields
// absent from config.yaml keep these values; fields present but invalid are
// rejected by Validate rather than silently corrected.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Daemon: DaemonConfig{
			ScanIntervalSec:    5,
			DebounceSec:        0.5,
			ShutdownTimeoutSec: 10,
		},
		Queue: QueueConfig{
			Shell:          "/bin/sh",
			ExecTimeoutSec: 300,
		},
		Escalation: EscalationConfig{
			LowThreshold:  0.35,
			HighThreshold: 0.65,
			Weights: EscalationWeights{
				Confidence:  0.5,
				Criticality: 0.25,
				Sensitivity: 0.25,
			},
		},
		Approval: ApprovalConfig{
			Provider:   "log",
			TimeoutSec: 10,
		},
		Service: ServiceConfig{
			Name:                   "service",
			HealthPath:             "/health",
			CheckIntervalSec:       10,
			MaxFailures:            3,
			StartupProbes:          20,
			StartupProbeIntervalMs: 250,
			ProbeTimeoutMs:         500,
			StopGraceSec:           5,
		},
		Audit: AuditConfig{
			MaxLogSizeMB:   100,
			EnableChecksum: true,
		},
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validApprovalProviders = map[string]bool{
	"log":     true,
	"webhook": true,
}

var validTiers = map[string]bool{
	"HOOTL": true,
	"HOTL":  true,
	"HITL":  true,
}

// Validate checks every section and accumulates field-path errors. Any error
// fails daemon startup; there is no silent fallback for a present-but-invalid
// value.
func (c *Config) Validate() error {
	ve := &ValidationErrors{}

	if !validLogLevels[c.Logging.Level] {
		ve.Add("logging.level", fmt.Sprintf("unknown level %q (expected debug, info, warn, error)", c.Logging.Level))
	}

	if c.Daemon.ScanIntervalSec <= 0 {
		ve.Add("daemon.scan_interval_sec", "must be positive")
	}
	if c.Daemon.DebounceSec < 0 {
		ve.Add("daemon.debounce_sec", "must not be negative")
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		ve.Add("daemon.shutdown_timeout_sec", "must be positive")
	}

	if strings.TrimSpace(c.Queue.Shell) == "" {
		ve.Add("queue.shell", "must not be empty")
	}
	if c.Queue.ExecTimeoutSec < 0 {
		ve.Add("queue.exec_timeout_sec", "must not be negative (0 disables the timeout)")
	}

	for i, p := range c.Admission.AllowPrefixes {
		if strings.TrimSpace(p) == "" {
			ve.Add(fmt.Sprintf("admission.allow_prefixes[%d]", i), "must not be blank")
		}
	}

	c.validateEscalation(ve)
	c.validateApproval(ve)
	c.validateService(ve)

	if c.Audit.MaxLogSizeMB <= 0 {
		ve.Add("audit.max_log_size_mb", "must be positive")
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}

func (c *Config) validateEscalation(ve *ValidationErrors) {
	e := c.Escalation
	if e.LowThreshold < 0 || e.LowThreshold > 1 {
		ve.Add("escalation.low_threshold", "must be within [0, 1]")
	}
	if e.HighThreshold < 0 || e.HighThreshold > 1 {
		ve.Add("escalation.high_threshold", "must be within [0, 1]")
	}
	if e.LowThreshold >= e.HighThreshold {
		ve.Add("escalation.low_threshold", "must be below escalation.high_threshold")
	}
	w := e.Weights
	if w.Confidence <= 0 || w.Criticality <= 0 || w.Sensitivity <= 0 {
		ve.Add("escalation.weights", "every weight must be positive")
	}
	if sum := w.Confidence + w.Criticality + w.Sensitivity; math.Abs(sum-1.0) > 1e-6 {
		ve.Add("escalation.weights", fmt.Sprintf("weights must sum to 1.0, got %.4f", sum))
	}
	for persona, tier := range e.PersonaFloors {
		if !validTiers[strings.ToUpper(tier)] {
			ve.Add("escalation.persona_floors."+persona,
				fmt.Sprintf("unknown tier %q (expected HOOTL, HOTL, HITL)", tier))
		}
	}
}

func (c *Config) validateApproval(ve *ValidationErrors) {
	a := c.Approval
	if !validApprovalProviders[a.Provider] {
		ve.Add("approval.provider", fmt.Sprintf("unknown provider %q (expected log, webhook)", a.Provider))
	}
	if a.Provider == "webhook" {
		if a.WebhookURL == "" {
			ve.Add("approval.webhook_url", "required when approval.provider is webhook")
		} else if u, err := url.Parse(a.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			ve.Add("approval.webhook_url", fmt.Sprintf("not a valid http(s) URL: %q", a.WebhookURL))
		}
	}
	if a.TimeoutSec <= 0 {
		ve.Add("approval.timeout_sec", "must be positive")
	}
}

func (c *Config) validateService(ve *ValidationErrors) {
	s := c.Service
	if s.Autostart && strings.TrimSpace(s.Command) == "" {
		ve.Add("service.command", "required when service.autostart is true")
	}
	if s.Port < 0 || s.Port > 65535 {
		ve.Add("service.port", "must be within [0, 65535]")
	}
	if s.Autostart && s.Port == 0 {
		ve.Add("service.port", "required when service.autostart is true")
	}
	for i, kv := range s.Env {
		if !strings.Contains(kv, "=") {
			ve.Add(fmt.Sprintf("service.env[%d]", i), fmt.Sprintf("expected KEY=VALUE, got %q", kv))
		}
	}
	if !strings.HasPrefix(s.HealthPath, "/") {
		ve.Add("service.health_path", "must start with /")
	}
	if s.CheckIntervalSec <= 0 {
		ve.Add("service.check_interval_sec", "must be positive")
	}
	if s.MaxFailures <= 0 {
		ve.Add("service.max_failures", "must be positive")
	}
	if s.StartupProbes <= 0 {
		ve.Add("service.startup_probes", "must be positive")
	}
	if s.StartupProbeIntervalMs <= 0 || s.StartupProbeIntervalMs >= 1000 {
		ve.Add("service.startup_probe_interval_ms", "must be within (0, 1000)")
	}
	if s.ProbeTimeoutMs <= 0 {
		ve.Add("service.probe_timeout_ms", "must be positive")
	}
	if s.StopGraceSec <= 0 {
		ve.Add("service.stop_grace_sec", "must be positive")
	}
}
