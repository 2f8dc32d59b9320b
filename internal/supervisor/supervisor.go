// Package supervisor keeps one HTTP service alive. Starting is fail-fast: the
// port is bind-probed before anything spawns, and the child must pass a
// bounded startup health window or it is terminated again. After a healthy
// start a monitor loop probes liveness and replaces the child when probes
// fail often enough; deactivation is always an explicit Stop, never a monitor
// decision.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/warden/internal/events"
	"github.com/msageha/warden/internal/model"
	"github.com/msageha/warden/internal/state"
)

// ErrAlreadyRunning is returned by Start when a child is still supervised.
var ErrAlreadyRunning = errors.New("service already running")

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

// Supervisor owns one supervised service: the child process, its persisted
// record, and the monitor goroutine.
type Supervisor struct {
	wardenDir string
	config    model.ServiceConfig
	logger    *log.Logger
	logFile   io.Closer
	logLevel  LogLevel

	store *state.Store
	bus   *events.Bus

	// startGroup collapses concurrent start triggers (monitor restart and
	// admin request-start) into a single attempt.
	startGroup singleflight.Group

	mu       sync.Mutex
	cmd      *exec.Cmd
	waitCh   chan error
	childLog io.Closer
	port     int

	// Monitor guard lives on the instance: two supervisors never share it,
	// and a nil cancel func means no loop is running.
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// New creates a Supervisor that logs to .warden/logs/supervisor.log.
func New(wardenDir string, cfg model.ServiceConfig, store *state.Store, bus *events.Bus, logLevel string) (*Supervisor, error) {
	logPath := filepath.Join(wardenDir, "logs", "supervisor.log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}
	return newSupervisor(wardenDir, cfg, store, bus, logLevel, logFile, logFile), nil
}

// newSupervisor is the internal constructor that accepts an io.Writer for testing.
func newSupervisor(wardenDir string, cfg model.ServiceConfig, store *state.Store, bus *events.Bus, logLevel string, w io.Writer, closer io.Closer) *Supervisor {
	return &Supervisor{
		wardenDir: wardenDir,
		config:    applyDefaults(cfg),
		logger:    log.New(w, "", 0),
		logFile:   closer,
		logLevel:  parseLogLevel(logLevel),
		store:     store,
		bus:       bus,
	}
}

func applyDefaults(cfg model.ServiceConfig) model.ServiceConfig {
	if cfg.Name == "" {
		cfg.Name = "service"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.CheckIntervalSec <= 0 {
		cfg.CheckIntervalSec = 10
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.StartupProbes <= 0 {
		cfg.StartupProbes = 20
	}
	if cfg.StartupProbeIntervalMs <= 0 {
		cfg.StartupProbeIntervalMs = 250
	}
	if cfg.ProbeTimeoutMs <= 0 {
		cfg.ProbeTimeoutMs = 500
	}
	if cfg.StopGraceSec <= 0 {
		cfg.StopGraceSec = 5
	}
	return cfg
}

// Name returns the supervised service name.
func (s *Supervisor) Name() string {
	return s.config.Name
}

// Running reports whether a child process is currently supervised.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Close releases the log file handle. It does not stop the child; call Stop
// first for an orderly shutdown.
func (s *Supervisor) Close() error {
	if s.logFile != nil {
		return s.logFile.Close()
	}
	return nil
}

// Start brings the service up on the given port (0 falls back to the
// configured port). Concurrent calls collapse into one attempt.
func (s *Supervisor) Start(ctx context.Context, port int) error {
	_, err, _ := s.startGroup.Do("start", func() (interface{}, error) {
		return nil, s.start(ctx, port)
	})
	return err
}

// start is the uncollapsed start path: bind probe, spawn, startup health
// window, persist, monitor.
func (s *Supervisor) start(ctx context.Context, port int) error {
	if port == 0 {
		port = s.config.Port
	}
	if port <= 0 {
		return fmt.Errorf("no service port configured")
	}
	if s.config.Command == "" {
		return fmt.Errorf("no service command configured")
	}

	s.mu.Lock()
	if s.cmd != nil {
		pid := s.cmd.Process.Pid
		s.mu.Unlock()
		return fmt.Errorf("%w: pid=%d", ErrAlreadyRunning, pid)
	}
	s.port = port
	s.mu.Unlock()

	// Bind probe before spawning anything, so a taken port is reported
	// without side effects.
	if err := probePort(port); err != nil {
		s.log(LogLevelWarn, "port_in_use port=%d error=%v", port, err)
		return fmt.Errorf("%w: %d", ErrPortInUse, port)
	}

	pid, err := s.spawn(port)
	if err != nil {
		s.bus.Publish(events.EventServiceStartFailed, map[string]interface{}{
			"service": s.config.Name,
			"port":    port,
			"reason":  "spawn",
			"error":   err.Error(),
		})
		return &SpawnError{Command: s.config.Command, Err: err}
	}
	s.log(LogLevelInfo, "spawned pid=%d port=%d command=%q", pid, port, s.config.Command)

	if err := s.awaitHealthy(ctx, port); err != nil {
		s.stopChild()
		if _, serr := s.store.Update(s.config.Name, func(r *model.ServiceRecord) {
			r.Name = s.config.Name
			r.Port = port
			r.PID = nil
			r.Listening = false
		}); serr != nil {
			s.log(LogLevelError, "persist_state error=%v", serr)
		}
		s.bus.Publish(events.EventServiceStartFailed, map[string]interface{}{
			"service": s.config.Name,
			"port":    port,
			"reason":  "health_timeout",
			"error":   err.Error(),
		})
		return err
	}

	if _, err := s.store.Update(s.config.Name, func(r *model.ServiceRecord) {
		r.Name = s.config.Name
		r.Port = port
		p := pid
		r.PID = &p
		r.Listening = true
		r.ConsecutiveFailures = 0
	}); err != nil {
		s.log(LogLevelError, "persist_state error=%v", err)
	}

	s.log(LogLevelInfo, "service_started name=%s pid=%d port=%d", s.config.Name, pid, port)
	s.bus.Publish(events.EventServiceStarted, map[string]interface{}{
		"service": s.config.Name,
		"port":    port,
		"pid":     pid,
	})

	s.startMonitor()
	return nil
}

// spawn launches the service command via sh -c in its own process group with
// an explicit environment: the inherited one plus PORT plus configured
// entries. Child output goes to logs/service.log.
func (s *Supervisor) spawn(port int) (int, error) {
	cmd := exec.Command("/bin/sh", "-c", s.config.Command)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PORT=%d", port))
	cmd.Env = append(cmd.Env, s.config.Env...)
	// Own process group, so stop signals reach the shell's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var childLog io.Closer
	logPath := filepath.Join(s.wardenDir, "logs", "service.log")
	if out, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		cmd.Stdout = out
		cmd.Stderr = out
		childLog = out
	}

	if err := cmd.Start(); err != nil {
		if childLog != nil {
			childLog.Close()
		}
		return 0, err
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	s.mu.Lock()
	s.cmd = cmd
	s.waitCh = waitCh
	s.childLog = childLog
	s.mu.Unlock()

	return cmd.Process.Pid, nil
}

// awaitHealthy polls the health endpoint for the bounded startup window.
func (s *Supervisor) awaitHealthy(ctx context.Context, port int) error {
	client := &http.Client{Timeout: time.Duration(s.config.ProbeTimeoutMs) * time.Millisecond}
	url := s.healthURL(port)
	interval := time.Duration(s.config.StartupProbeIntervalMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= s.config.StartupProbes; attempt++ {
		if err := sleepCtx(ctx, interval); err != nil {
			return &HealthTimeoutError{Attempts: attempt, LastErr: err}
		}
		if err := probeHealth(client, url); err != nil {
			lastErr = err
			s.log(LogLevelDebug, "startup_probe attempt=%d/%d error=%v", attempt, s.config.StartupProbes, err)
			continue
		}
		return nil
	}

	s.log(LogLevelError, "startup_window_exhausted port=%d attempts=%d last_error=%v",
		port, s.config.StartupProbes, lastErr)
	return &HealthTimeoutError{Attempts: s.config.StartupProbes, LastErr: lastErr}
}

func (s *Supervisor) healthURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, s.config.HealthPath)
}

// startMonitor launches the monitor goroutine if it is not already running.
func (s *Supervisor) startMonitor() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.monitorCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.monitorCancel = cancel
	s.monitorDone = done

	go func() {
		defer close(done)
		s.monitorLoop(ctx)
	}()
}

// monitorLoop probes liveness every check interval. Success resets the
// persisted failure counter; failures accumulate until max_failures triggers
// exactly one restart attempt, with the counter reset immediately whether the
// restart wins or loses. A failed probe never crashes the loop.
func (s *Supervisor) monitorLoop(ctx context.Context) {
	interval := time.Duration(s.config.CheckIntervalSec) * time.Second
	client := &http.Client{Timeout: time.Duration(s.config.ProbeTimeoutMs) * time.Millisecond}

	s.log(LogLevelInfo, "monitor_started interval=%s max_failures=%d", interval, s.config.MaxFailures)

	failures := 0
	for {
		if err := sleepCtx(ctx, interval); err != nil {
			s.log(LogLevelInfo, "monitor_stopped")
			return
		}

		s.mu.Lock()
		port := s.port
		s.mu.Unlock()
		if port == 0 {
			continue
		}

		err := probeHealth(client, s.healthURL(port))
		if err == nil {
			if failures != 0 {
				failures = 0
				s.persistFailures(0)
			}
			continue
		}

		failures++
		s.persistFailures(failures)
		s.log(LogLevelWarn, "probe_failed failures=%d/%d error=%v", failures, s.config.MaxFailures, err)
		s.bus.Publish(events.EventServiceProbeFailed, map[string]interface{}{
			"service":  s.config.Name,
			"port":     port,
			"failures": failures,
			"error":    err.Error(),
		})

		if failures >= s.config.MaxFailures {
			failures = 0
			s.persistFailures(0)
			s.restart(ctx, port)
		}
	}
}

func (s *Supervisor) persistFailures(n int) {
	if _, err := s.store.Update(s.config.Name, func(r *model.ServiceRecord) {
		r.ConsecutiveFailures = n
	}); err != nil {
		s.log(LogLevelWarn, "persist_failure_count error=%v", err)
	}
}

// restart replaces the child through the same start path. It shares the
// singleflight key with Start, so an admin start racing a monitor restart
// joins the in-flight attempt instead of doubling it.
func (s *Supervisor) restart(ctx context.Context, port int) {
	_, err, _ := s.startGroup.Do("start", func() (interface{}, error) {
		s.log(LogLevelWarn, "restarting name=%s port=%d", s.config.Name, port)
		s.stopChild()
		if err := s.start(ctx, port); err != nil {
			return nil, err
		}
		if _, err := s.store.Update(s.config.Name, func(r *model.ServiceRecord) {
			r.RestartCount++
		}); err != nil {
			s.log(LogLevelWarn, "persist_restart_count error=%v", err)
		}
		s.bus.Publish(events.EventServiceRestarted, map[string]interface{}{
			"service": s.config.Name,
			"port":    port,
		})
		return nil, nil
	})
	if err != nil {
		s.log(LogLevelError, "restart_failed error=%v", err)
	}
}

// Stop deactivates supervision: the monitor exits, the child is terminated,
// and the record shows listening=false with the pid cleared. Stopping a
// stopped supervisor is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.monitorCancel
	done := s.monitorDone
	s.monitorCancel = nil
	s.monitorDone = nil
	running := s.cmd != nil
	s.mu.Unlock()

	if cancel == nil && !running {
		return nil
	}

	if cancel != nil {
		cancel()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	s.stopChild()

	if _, err := s.store.Update(s.config.Name, func(r *model.ServiceRecord) {
		r.Listening = false
		r.PID = nil
	}); err != nil {
		return fmt.Errorf("persist stop: %w", err)
	}

	s.log(LogLevelInfo, "service_stopped name=%s", s.config.Name)
	s.bus.Publish(events.EventServiceStopped, map[string]interface{}{
		"service": s.config.Name,
	})
	return nil
}

// stopChild terminates the running child: SIGTERM to the process group, then
// SIGKILL after the grace period. Safe to call with no child.
func (s *Supervisor) stopChild() {
	s.mu.Lock()
	cmd := s.cmd
	waitCh := s.waitCh
	childLog := s.childLog
	s.cmd = nil
	s.waitCh = nil
	s.childLog = nil
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	grace := time.Duration(s.config.StopGraceSec) * time.Second
	select {
	case <-waitCh:
	case <-time.After(grace):
		s.log(LogLevelWarn, "kill_after_grace pid=%d", pid)
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			_ = cmd.Process.Kill()
		}
		<-waitCh
	}

	if childLog != nil {
		childLog.Close()
	}
	s.log(LogLevelInfo, "child_stopped pid=%d", pid)
}

// sleepCtx sleeps for d or returns early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) log(level LogLevel, format string, args ...any) {
	if level < s.logLevel {
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
	s.logger.Printf("%s %s supervisor: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
