// Package lifecycle starts and stops the daemon from the CLI. Up spawns a
// detached serve process and waits for the admin socket to answer; Down asks
// a running daemon to shut down and waits for the socket to disappear. Both
// clean up what a crashed daemon leaves behind (stale socket, stale lock).
package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/msageha/warden/internal/lock"
	"github.com/msageha/warden/internal/uds"
	yamlutil "github.com/msageha/warden/internal/yaml"
)

// ErrDaemonRunning means the workspace lock is already held by a live daemon.
var ErrDaemonRunning = errors.New("daemon is already running")

const (
	upTimeout    = 5 * time.Second
	upPollStep   = 100 * time.Millisecond
	downTimeout  = 30 * time.Second
	downPollStep = 200 * time.Millisecond
)

// Up starts the daemon as a detached background process and waits until its
// admin socket answers a ping.
func Up(wardenDir string, out io.Writer) error {
	if err := ensureWorkspaceDirs(wardenDir); err != nil {
		return err
	}

	// Probe the flock the daemon will take. Held means a daemon is alive;
	// free means any leftover socket is stale and safe to clear.
	lockPath := filepath.Join(wardenDir, "locks", "daemon.lock")
	fl := lock.NewFileLock(lockPath)
	if err := fl.TryLock(); err != nil {
		if pid := lock.OwnerPID(lockPath); pid != 0 {
			return fmt.Errorf("%w (pid %d)", ErrDaemonRunning, pid)
		}
		return fmt.Errorf("%w: %v", ErrDaemonRunning, err)
	}
	_ = fl.Unlock()

	socketPath := filepath.Join(wardenDir, uds.DefaultSocketName)
	if _, err := os.Stat(socketPath); err == nil {
		fmt.Fprintf(out, "Removing stale socket %s\n", socketPath)
		_ = os.Remove(socketPath)
	}

	if err := recoverStateFile(wardenDir, out); err != nil {
		return err
	}

	if err := spawnServe(wardenDir); err != nil {
		return err
	}

	if err := waitForSocket(socketPath); err != nil {
		return fmt.Errorf("%w (check %s)", err, filepath.Join(wardenDir, "logs", "daemon.log"))
	}

	fmt.Fprintln(out, "Daemon is up.")
	return nil
}

// recoverStateFile checks the services state file before the daemon starts.
// A corrupt file would be recovered by the store's first read anyway; doing
// it here keeps the warning in the operator's terminal.
func recoverStateFile(wardenDir string, out io.Writer) error {
	statePath := filepath.Join(wardenDir, "state", "services.yaml")
	if _, err := os.Stat(statePath); err != nil {
		return nil
	}
	err := yamlutil.ValidateSchemaHeader(statePath, "state_services")
	if err == nil {
		return nil
	}
	fmt.Fprintf(out, "Warning: corrupt state file %s (%v); recovering\n", statePath, err)
	if err := yamlutil.RecoverCorruptedFile(wardenDir, statePath, "state_services"); err != nil {
		return fmt.Errorf("recover state file: %w", err)
	}
	return nil
}

// ensureWorkspaceDirs recreates the directory skeleton so a partially
// deleted workspace does not fail the daemon mid-startup.
func ensureWorkspaceDirs(wardenDir string) error {
	dirs := []string{
		"queue/inbound", "queue/outbound", "approvals",
		"state", "locks", "logs/audit", "quarantine",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(wardenDir, d), 0755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", d, err)
		}
	}
	return nil
}

// spawnServe launches `warden serve` detached, working from the workspace's
// parent so the child resolves the same workspace this command did.
func spawnServe(wardenDir string) error {
	execPath, err := os.Executable()
	if err != nil {
		execPath = "warden" // fall back to PATH lookup
	}
	cmd := exec.Command(execPath, "serve")
	cmd.Dir = filepath.Dir(wardenDir)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	// Reap the child when it eventually exits; the daemon outlives us.
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// waitForSocket polls until the daemon answers a ping on its socket.
func waitForSocket(socketPath string) error {
	client := uds.NewClient(socketPath)
	client.SetTimeout(upPollStep)

	deadline := time.Now().Add(upTimeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); err == nil {
			if resp, err := client.SendCommand("ping", nil); err == nil && resp.Success {
				return nil
			}
		}
		time.Sleep(upPollStep)
	}
	return fmt.Errorf("daemon did not answer within %s", upTimeout)
}

// processAlive reports whether a PID names a live process. EPERM counts as
// alive: the process exists, we just may not signal it.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
