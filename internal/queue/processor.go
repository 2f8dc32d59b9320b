// Package queue drives task descriptors dropped into queue/inbound through
// admission, escalation, and execution.
//
// The atomic rename out of inbound/ is the sole commit point and the sole
// concurrency-control mechanism. A descriptor is executed at most once per
// file move, but a crash after the child process ran and before the rename
// leaves the file in inbound/, so the same command runs again on restart:
// at-most-once per move, at-least-once across crashes. Commands that are not
// idempotent must tolerate re-execution.
package queue

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/msageha/warden/internal/admission"
	"github.com/msageha/warden/internal/approval"
	"github.com/msageha/warden/internal/events"
	"github.com/msageha/warden/internal/model"
	"github.com/msageha/warden/internal/policy"
	"github.com/msageha/warden/internal/runner"
)

// doneSuffix marks archived descriptors in queue/outbound.
const doneSuffix = ".done"

// LogLevel controls logging verbosity.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Processor owns the intake scan: it lists inbound descriptors, decides each
// one's fate (execute, escalate, archive), and publishes the outcome.
type Processor struct {
	wardenDir string
	config    model.Config
	logger    *log.Logger
	logFile   io.Closer
	logLevel  LogLevel

	allowlist *admission.Allowlist
	engine    *policy.Engine
	gate      *approval.Gate
	provider  approval.Provider
	runner    *runner.Runner
	bus       *events.Bus

	// Debounce state
	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	// Scan serialization: fsnotify triggers and the ticker share one path
	fileMu sync.Mutex

	// requested tracks tasks whose approval request already went out, so
	// repeated scans do not spam the provider while a task sits awaiting.
	requestedMu sync.Mutex
	requested   map[string]bool
}

// NewProcessor creates a Processor that logs to .warden/logs/queue_processor.log.
func NewProcessor(wardenDir string, cfg model.Config, bus *events.Bus) (*Processor, error) {
	logPath := filepath.Join(wardenDir, "logs", "queue_processor.log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}
	return newProcessor(wardenDir, cfg, bus, logFile, logFile)
}

// newProcessor is the internal constructor that accepts an io.Writer for testing.
func newProcessor(wardenDir string, cfg model.Config, bus *events.Bus, w io.Writer, closer io.Closer) (*Processor, error) {
	engine, err := policy.NewEngine(cfg.Escalation)
	if err != nil {
		return nil, err
	}
	gate, err := approval.NewGate(filepath.Join(wardenDir, "approvals"))
	if err != nil {
		return nil, err
	}
	provider, err := approval.NewProvider(cfg.Approval, os.Stdout)
	if err != nil {
		return nil, err
	}

	return &Processor{
		wardenDir: wardenDir,
		config:    cfg,
		logger:    log.New(w, "", 0),
		logFile:   closer,
		logLevel:  parseLogLevel(cfg.Logging.Level),
		allowlist: admission.New(cfg.Admission.AllowPrefixes),
		engine:    engine,
		gate:      gate,
		provider:  provider,
		runner:    runner.New(cfg.Queue.Shell, time.Duration(cfg.Queue.ExecTimeoutSec)*time.Second),
		bus:       bus,
		requested: make(map[string]bool),
	}, nil
}

// SetProvider overrides the approval provider for testing.
func (p *Processor) SetProvider(provider approval.Provider) {
	p.provider = provider
}

// Gate returns the approval gate (for status reporting).
func (p *Processor) Gate() *approval.Gate {
	return p.gate
}

// Close stops the debounce timer and releases the log file handle.
func (p *Processor) Close() error {
	p.debounceMu.Lock()
	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
	}
	p.debounceMu.Unlock()

	if p.logFile != nil {
		return p.logFile.Close()
	}
	return nil
}

func (p *Processor) inboundDir() string {
	return filepath.Join(p.wardenDir, "queue", "inbound")
}

func (p *Processor) outboundDir() string {
	return filepath.Join(p.wardenDir, "queue", "outbound")
}

// HandleFileEvent routes an fsnotify event into a debounced scan. Events in
// approvals/ retrigger scanning so a freshly approved task is picked up
// without waiting for the ticker.
func (p *Processor) HandleFileEvent(ctx context.Context, filePath string) {
	base := filepath.Base(filePath)
	dir := filepath.Base(filepath.Dir(filePath))

	if dir == "inbound" || dir == "approvals" {
		p.debounceAndScan(ctx, base)
	}
}

// debounceAndScan applies debounce logic before triggering a scan.
func (p *Processor) debounceAndScan(ctx context.Context, trigger string) {
	debounceSec := p.config.Daemon.DebounceSec
	if debounceSec <= 0 {
		debounceSec = 0.5
	}

	p.debounceMu.Lock()
	defer p.debounceMu.Unlock()

	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
	}

	p.debounceTimer = time.AfterFunc(
		time.Duration(debounceSec*float64(time.Second)),
		func() {
			p.log(LogLevelDebug, "debounced_scan trigger=%s", trigger)
			p.ScanOnce(ctx)
		},
	)
}

// ScanOnce performs one pass over the inbound directory. Hidden files and
// *.tmp entries (half-written drops) are skipped; the rest are handled in
// sorted order. A failure on one descriptor never stops the pass.
func (p *Processor) ScanOnce(ctx context.Context) {
	p.fileMu.Lock()
	defer p.fileMu.Unlock()

	entries, err := os.ReadDir(p.inboundDir())
	if err != nil {
		if !os.IsNotExist(err) {
			p.log(LogLevelError, "scan_list error=%v", err)
		}
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		p.processFile(ctx, name)
	}

	if len(names) > 0 {
		p.log(LogLevelDebug, "scan complete files=%d", len(names))
	}
}

// processFile decides one descriptor's fate. Parse failures are terminal:
// the file moves to quarantine/ and is never retried. Tasks that are neither
// allowlisted nor approved are marked awaiting and left in place for the
// next scan to re-evaluate against fresh marker state.
func (p *Processor) processFile(ctx context.Context, name string) {
	path := filepath.Join(p.inboundDir(), name)
	taskID := model.TaskIDFromFilename(name)
	if taskID == "" {
		taskID = name
	}

	if err := model.ValidateTaskID(taskID); err != nil {
		p.log(LogLevelWarn, "invalid_task_id file=%s error=%v", name, err)
		p.bus.Publish(events.EventTaskParseError, map[string]interface{}{
			"task_id": taskID,
			"file":    name,
			"error":   err.Error(),
		})
		p.quarantineFile(name)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Raced away by an earlier debounced scan.
			return
		}
		p.log(LogLevelWarn, "read_task file=%s error=%v", name, err)
		return
	}

	task, err := model.ParseTask(taskID, data)
	if err != nil {
		p.log(LogLevelWarn, "parse_error task=%s error=%v", taskID, err)
		p.bus.Publish(events.EventTaskParseError, map[string]interface{}{
			"task_id": taskID,
			"file":    name,
			"error":   err.Error(),
		})
		p.quarantineFile(name)
		return
	}

	if !task.HasCommand() {
		p.log(LogLevelInfo, "no_command task=%s", taskID)
		p.bus.Publish(events.EventTaskNoCommand, map[string]interface{}{
			"task_id": taskID,
			"file":    name,
		})
		p.archiveFile(name)
		return
	}

	command := strings.TrimSpace(task.Command)

	allowed := p.allowlist.IsAllowed(command)
	approved := false
	if !allowed {
		approved, err = p.gate.ApprovedExists(taskID)
		if err != nil {
			// Unreadable marker state denies; the file stays for the next scan.
			p.log(LogLevelWarn, "approval_check task=%s error=%v", taskID, err)
			return
		}
	}

	if allowed || approved {
		p.execute(ctx, task, name, command, approved)
		return
	}

	p.escalate(ctx, task, command)
}

// execute runs the command, records the outcome, consumes any approval
// markers, and archives the descriptor. A non-zero exit is recorded, not
// retried; the descriptor is archived either way.
func (p *Processor) execute(ctx context.Context, task *model.Task, name, command string, approved bool) {
	if approved {
		p.bus.Publish(events.EventTaskApprovedOverride, map[string]interface{}{
			"task_id": task.ID,
			"command": command,
		})
	}
	p.log(LogLevelInfo, "execute task=%s approved=%t command=%q", task.ID, approved, command)

	res := p.runner.Run(ctx, command)

	details := map[string]interface{}{
		"task_id":     task.ID,
		"command":     command,
		"exit_code":   res.ExitCode,
		"duration_ms": res.Duration.Milliseconds(),
		"approved":    approved,
	}
	if res.Output != "" {
		details["output"] = res.Output
	}
	if res.TimedOut {
		details["timed_out"] = true
	}
	if res.Err != nil {
		details["error"] = res.Err.Error()
	}

	if res.Failed() {
		p.log(LogLevelWarn, "execution_failed task=%s exit=%d timed_out=%t", task.ID, res.ExitCode, res.TimedOut)
		p.bus.Publish(events.EventTaskExecutionFailed, details)
	} else {
		p.log(LogLevelInfo, "executed task=%s exit=%d duration=%s", task.ID, res.ExitCode, res.Duration)
		p.bus.Publish(events.EventTaskExecuted, details)
	}

	if err := p.gate.Consume(task.ID); err != nil {
		p.log(LogLevelWarn, "consume_markers task=%s error=%v", task.ID, err)
	}
	p.clearRequested(task.ID)
	p.archiveFile(name)
}

// escalate parks a task behind the approval gate. The escalation tier is
// classified from the descriptor's governance hints and recorded with the
// marker and the audit event; it never changes whether the task waits.
func (p *Processor) escalate(ctx context.Context, task *model.Task, command string) {
	hints := task.Hints()
	decision := p.engine.Classify(policy.Input{
		Confidence:  hints.Confidence,
		Criticality: policy.Criticality(strings.ToLower(hints.Criticality)),
		Sensitivity: policy.Sensitivity(strings.ToLower(hints.Sensitivity)),
		Persona:     hints.Persona,
	})
	tier := decision.Tier.String()

	if err := p.gate.MarkAwaiting(task.ID, command, tier); err != nil {
		p.log(LogLevelWarn, "mark_awaiting task=%s error=%v", task.ID, err)
		return
	}

	if !p.markRequested(task.ID) {
		return
	}

	p.log(LogLevelInfo, "awaiting_approval task=%s tier=%s score=%.3f command=%q",
		task.ID, tier, decision.Score, command)
	p.bus.Publish(events.EventTaskAwaitingApproval, map[string]interface{}{
		"task_id": task.ID,
		"command": command,
		"tier":    tier,
		"score":   decision.Score,
	})

	req := approval.Request{
		TaskID:      task.ID,
		Command:     command,
		Tier:        tier,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	}
	go func() {
		if err := p.provider.RequestApproval(ctx, req); err != nil {
			p.log(LogLevelWarn, "approval_request provider=%s task=%s error=%v",
				p.provider.Name(), task.ID, err)
			return
		}
		p.bus.Publish(events.EventApprovalRequested, map[string]interface{}{
			"task_id":  task.ID,
			"provider": p.provider.Name(),
			"tier":     tier,
		})
	}()
}

// markRequested records the first approval request for a task. Returns true
// only the first time, so the provider fires once per awaiting task per
// daemon run; a restart re-announces still-pending tasks.
func (p *Processor) markRequested(taskID string) bool {
	p.requestedMu.Lock()
	defer p.requestedMu.Unlock()
	if p.requested[taskID] {
		return false
	}
	p.requested[taskID] = true
	return true
}

func (p *Processor) clearRequested(taskID string) {
	p.requestedMu.Lock()
	defer p.requestedMu.Unlock()
	delete(p.requested, taskID)
}

// archiveFile commits a handled descriptor into queue/outbound. On rename
// failure the file stays in inbound and the next scan repeats the step.
func (p *Processor) archiveFile(name string) {
	if err := os.MkdirAll(p.outboundDir(), 0755); err != nil {
		p.log(LogLevelError, "archive_mkdir error=%v", err)
		return
	}
	dest := filepath.Join(p.outboundDir(), name+doneSuffix)
	if err := os.Rename(filepath.Join(p.inboundDir(), name), dest); err != nil {
		p.log(LogLevelError, "archive file=%s error=%v", name, err)
	}
}

// quarantineFile moves a malformed descriptor aside with a timestamped name
// so it is never rescanned and never silently lost.
func (p *Processor) quarantineFile(name string) {
	qdir := filepath.Join(p.wardenDir, "quarantine")
	if err := os.MkdirAll(qdir, 0755); err != nil {
		p.log(LogLevelError, "quarantine_mkdir error=%v", err)
		return
	}
	timestamp := time.Now().Format("20060102_150405")
	dest := filepath.Join(qdir, fmt.Sprintf("%s.rejected.%s", name, timestamp))
	if err := os.Rename(filepath.Join(p.inboundDir(), name), dest); err != nil {
		p.log(LogLevelError, "quarantine file=%s error=%v", name, err)
	}
}

func (p *Processor) log(level LogLevel, format string, args ...any) {
	if level < p.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	p.logger.Printf("%s %s queue_processor: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
