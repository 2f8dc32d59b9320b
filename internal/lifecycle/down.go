package lifecycle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/warden/internal/lock"
	"github.com/msageha/warden/internal/uds"
)

// Down asks a running daemon to shut down over the admin socket and waits
// for the socket to disappear. When no daemon answers it cleans up whatever
// a crashed one left behind instead of failing.
func Down(wardenDir string, out io.Writer) error {
	socketPath := filepath.Join(wardenDir, uds.DefaultSocketName)
	lockPath := filepath.Join(wardenDir, "locks", "daemon.lock")

	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		cleanupStaleLock(lockPath, out)
		fmt.Fprintln(out, "Daemon is not running.")
		return nil
	}

	client := uds.NewClient(socketPath)
	client.SetTimeout(5 * time.Second)

	resp, err := client.SendCommand("shutdown", nil)
	if err != nil {
		// Socket present but nobody listening: the daemon died without
		// cleaning up. Clear its leavings so the next Up starts clean.
		fmt.Fprintf(out, "Warning: could not reach daemon: %v\n", err)
		if pid := lock.OwnerPID(lockPath); pid == 0 || !processAlive(pid) {
			_ = os.Remove(socketPath)
			cleanupStaleLock(lockPath, out)
			fmt.Fprintln(out, "Removed stale socket.")
		}
		return nil
	}
	if !resp.Success {
		return fmt.Errorf("shutdown request rejected by daemon")
	}

	fmt.Fprintln(out, "Shutdown accepted. Waiting for daemon to stop...")

	deadline := time.Now().Add(downTimeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); os.IsNotExist(err) {
			fmt.Fprintln(out, "Daemon stopped.")
			return nil
		}
		time.Sleep(downPollStep)
	}
	return fmt.Errorf("daemon did not stop within %s", downTimeout)
}

// cleanupStaleLock removes a lock file whose recorded owner is gone. A live
// owner's lock is left alone.
func cleanupStaleLock(lockPath string, out io.Writer) {
	pid := lock.OwnerPID(lockPath)
	if pid == 0 || processAlive(pid) {
		return
	}
	if err := os.Remove(lockPath); err == nil {
		fmt.Fprintf(out, "Removed stale lock (pid %d).\n", pid)
	}
}
