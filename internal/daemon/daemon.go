// Package daemon runs the warden process: a queue loop that executes or
// escalates submitted tasks, a supervisor that keeps one service alive, and
// an admin socket. The two loops never share a lock; everything they have in
// common flows through the event bus into the audit trail.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/msageha/warden/internal/events"
	"github.com/msageha/warden/internal/lock"
	"github.com/msageha/warden/internal/model"
	"github.com/msageha/warden/internal/notify"
	"github.com/msageha/warden/internal/queue"
	"github.com/msageha/warden/internal/state"
	"github.com/msageha/warden/internal/supervisor"
	"github.com/msageha/warden/internal/uds"
)

// Version is reported in status output and by the version subcommand.
const Version = "0.3.0"

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

// Daemon is the main warden daemon process.
type Daemon struct {
	wardenDir string
	config    model.Config
	logLevel  LogLevel
	logger    *log.Logger
	logFile   io.Closer
	startedAt time.Time

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	bus       *events.Bus
	audit     *events.AuditLogger
	processor *queue.Processor
	store     *state.Store
	super     *supervisor.Supervisor

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped chan struct{}

	shutdown  sync.Once
	forceExit atomic.Bool
}

// New creates a new Daemon instance.
func New(wardenDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(wardenDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(wardenDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(wardenDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	logger := log.New(w, "", 0)

	socketPath := filepath.Join(wardenDir, uds.DefaultSocketName)
	server := uds.NewServer(socketPath)
	server.SetLogger(logger)

	scanInterval := cfg.Daemon.ScanIntervalSec
	if scanInterval <= 0 {
		scanInterval = 5
	}

	d := &Daemon{
		wardenDir: wardenDir,
		config:    cfg,
		logLevel:  parseLogLevel(cfg.Logging.Level),
		logger:    logger,
		logFile:   closer,
		startedAt: time.Now(),
		fileLock:  lock.NewFileLock(filepath.Join(wardenDir, "locks", "daemon.lock")),
		server:    server,
		ticker:    time.NewTicker(time.Duration(scanInterval) * time.Second),
		bus:       events.NewBus(256),
		store:     state.NewStore(wardenDir),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}

	return d, nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Step 1: Acquire file lock
	if err := os.MkdirAll(filepath.Join(d.wardenDir, "locks"), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d version=%s", os.Getpid(), Version)

	// Step 2: Init fsnotify watcher
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	// Watch the task inbox and the approval markers; everything else is
	// covered by the periodic scan.
	inboundDir := filepath.Join(d.wardenDir, "queue", "inbound")
	approvalsDir := filepath.Join(d.wardenDir, "approvals")
	ensureDirs := []string{
		inboundDir,
		filepath.Join(d.wardenDir, "queue", "outbound"),
		filepath.Join(d.wardenDir, "quarantine"),
		approvalsDir,
	}
	for _, dir := range ensureDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			d.cleanup()
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}
	for _, dir := range []string{inboundDir, approvalsDir} {
		if err := watcher.Add(dir); err != nil {
			d.cleanup()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	// Step 3: Open the audit trail and fold every published event into it
	auditPath := filepath.Join(d.wardenDir, "logs", "audit", "audit.jsonl")
	audit, err := events.NewAuditLogger(auditPath, int64(d.config.Audit.MaxLogSizeMB)*1024*1024)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open audit log: %w", err)
	}
	audit.EnableChecksum(d.config.Audit.EnableChecksum)
	d.audit = audit
	for _, typ := range events.AllTypes() {
		d.bus.Subscribe(typ, d.auditEvent)
	}

	// Step 3.5: Desktop notifications for approval requests
	if d.config.Approval.DesktopNotify {
		d.bus.Subscribe(events.EventTaskAwaitingApproval, d.notifyAwaiting)
	}

	// Step 4: Init queue processor
	processor, err := queue.NewProcessor(d.wardenDir, d.config, d.bus)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("init queue processor: %w", err)
	}
	d.processor = processor

	// Step 4.5: Init service supervisor
	super, err := supervisor.New(d.wardenDir, d.config.Service, d.store, d.bus, d.config.Logging.Level)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("init supervisor: %w", err)
	}
	d.super = super

	// Step 5: Register UDS handlers
	d.registerHandlers()

	// Step 6: Start UDS server
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(LogLevelInfo, "UDS server listening on %s", filepath.Join(d.wardenDir, uds.DefaultSocketName))

	// Step 7: Start background loops
	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.tickerLoop()

	// Step 8: Run initial scan, then autostart the service if configured
	d.processor.ScanOnce(d.ctx)
	if d.config.Service.Autostart && strings.TrimSpace(d.config.Service.Command) != "" {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.super.Start(d.ctx, 0); err != nil {
				d.log(LogLevelError, "autostart service=%s error=%v", d.super.Name(), err)
			}
		}()
	}
	d.log(LogLevelInfo, "daemon ready")

	// Step 9: Wait for signals (or a shutdown over the admin socket)
	d.waitSignals()

	return nil
}

// auditEvent forwards one bus event into the audit trail.
func (d *Daemon) auditEvent(e events.Event) {
	if err := d.audit.Log(string(e.Type), e.Data); err != nil {
		d.log(LogLevelWarn, "audit write event=%s error=%v", e.Type, err)
	}
}

// notifyAwaiting raises a desktop notification for a task parked on approval.
func (d *Daemon) notifyAwaiting(e events.Event) {
	taskID, _ := e.Data["task_id"].(string)
	command, _ := e.Data["command"].(string)
	msg := fmt.Sprintf("Task %s needs approval: %s", taskID, command)
	if err := notify.Send("warden", msg); err != nil {
		d.log(LogLevelDebug, "desktop notify error=%v", err)
	}
}

// fsnotifyLoop processes filesystem change events.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.log(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				d.processor.HandleFileEvent(d.ctx, event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// tickerLoop triggers periodic scans at configured intervals.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.log(LogLevelDebug, "periodic scan triggered")
			d.processor.ScanOnce(d.ctx)
		}
	}
}

// waitSignals blocks until a shutdown signal is received or Shutdown is
// called from elsewhere (the admin socket's shutdown command).
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

		// Second signal → force exit
		go func() {
			<-sigCh
			d.log(LogLevelWarn, "received second signal, forcing exit")
			d.forceExit.Store(true)
			os.Exit(1)
		}()

		d.Shutdown()
	case <-d.stopped:
	}
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		// 1. Cancel context (stops accepting new work)
		d.cancel()

		// 2. Stop producers
		d.ticker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}

		// 3. Drain in-flight with timeout
		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 10
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		// 4. Stop the supervised service. An orphaned child would keep its
		// port and have no monitor left to restart it.
		if d.super != nil {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
			if err := d.super.Stop(stopCtx); err != nil {
				d.log(LogLevelWarn, "service stop error=%v", err)
			}
			cancelStop()
		}

		// 5. Cleanup
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
		close(d.stopped)
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	socketPath := filepath.Join(d.wardenDir, uds.DefaultSocketName)
	os.Remove(socketPath)
	d.bus.Close()
	if d.processor != nil {
		d.processor.Close()
	}
	if d.super != nil {
		d.super.Close()
	}
	if d.audit != nil {
		d.audit.Close()
	}
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
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
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
