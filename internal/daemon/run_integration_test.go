package daemon

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/warden/internal/model"
	"github.com/msageha/warden/internal/uds"
)

func integrationConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Daemon.ScanIntervalSec = 1
	cfg.Daemon.DebounceSec = 0.05
	cfg.Daemon.ShutdownTimeoutSec = 5
	cfg.Queue.ExecTimeoutSec = 10
	return cfg
}

// startTestDaemon runs a daemon against a fresh workspace and tears it down
// with the test.
func startTestDaemon(t *testing.T, cfg model.Config) (*Daemon, string) {
	t.Helper()

	wardenDir := filepath.Join(t.TempDir(), ".warden")
	require.NoError(t, os.MkdirAll(wardenDir, 0755))

	d, err := newDaemon(wardenDir, cfg, io.Discard, nil)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run() }()

	socketPath := filepath.Join(wardenDir, uds.DefaultSocketName)
	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "daemon socket never appeared")

	t.Cleanup(func() {
		d.Shutdown()
		select {
		case err := <-runErr:
			assert.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Error("Run did not return after Shutdown")
		}
	})

	return d, wardenDir
}

func testClient(wardenDir string) *uds.Client {
	return uds.NewClient(filepath.Join(wardenDir, uds.DefaultSocketName))
}

func TestRun_PingAndStatus(t *testing.T) {
	_, wardenDir := startTestDaemon(t, integrationConfig())
	client := testClient(wardenDir)

	resp, err := client.SendCommand("ping", nil)
	require.NoError(t, err)
	require.True(t, resp.Success)

	var ping map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &ping))
	assert.Equal(t, "ok", ping["status"])
	assert.Equal(t, Version, ping["version"])

	resp, err = client.SendCommand("get-status", nil)
	require.NoError(t, err)
	require.True(t, resp.Success)

	var snap model.StatusSnapshot
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Equal(t, os.Getpid(), snap.DaemonPID)
	assert.Equal(t, Version, snap.Version)
	assert.Equal(t, 0, snap.Queue.InboundPending)
	assert.Empty(t, snap.Approvals.Awaiting)
	assert.Nil(t, snap.Service, "no service record before any start")
}

func TestRun_ShutdownViaSocket(t *testing.T) {
	d, wardenDir := startTestDaemon(t, integrationConfig())
	client := testClient(wardenDir)

	resp, err := client.SendCommand("shutdown", nil)
	require.NoError(t, err)
	require.True(t, resp.Success)

	select {
	case <-d.stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop after shutdown command")
	}

	// The socket is gone once cleanup ran.
	_, statErr := os.Stat(filepath.Join(wardenDir, uds.DefaultSocketName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_SecondDaemonRefused(t *testing.T) {
	_, wardenDir := startTestDaemon(t, integrationConfig())

	d2, err := newDaemon(wardenDir, integrationConfig(), io.Discard, nil)
	require.NoError(t, err)

	err = d2.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon lock")
}

func TestRun_RequestStartWithoutCommand(t *testing.T) {
	_, wardenDir := startTestDaemon(t, integrationConfig())
	client := testClient(wardenDir)

	resp, err := client.SendCommand("request-start", StartParams{})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, uds.ErrCodeValidation, resp.Error.Code)
}

func TestRun_RequestStopWithNothingRunning(t *testing.T) {
	_, wardenDir := startTestDaemon(t, integrationConfig())
	client := testClient(wardenDir)

	resp, err := client.SendCommand("request-stop", nil)
	require.NoError(t, err)
	require.True(t, resp.Success, "stop of a stopped service is an acknowledged no-op")
}

func TestRun_UnknownCommand(t *testing.T) {
	_, wardenDir := startTestDaemon(t, integrationConfig())
	client := testClient(wardenDir)

	resp, err := client.SendCommand("bogus", nil)
	require.NoError(t, err)
	require.False(t, resp.Success)
	assert.Equal(t, uds.ErrCodeUnknownCommand, resp.Error.Code)
}

func TestRun_TaskFlowEndToEnd(t *testing.T) {
	_, wardenDir := startTestDaemon(t, integrationConfig())

	inbound := filepath.Join(wardenDir, "queue", "inbound")
	payload := []byte(`{"command": "echo governed"}`)
	require.NoError(t, os.WriteFile(filepath.Join(inbound, "task-e2e.json"), payload, 0644))

	// The watcher (or the 1s scan) should pick it up, run it, and move it.
	donePath := filepath.Join(wardenDir, "queue", "outbound", "task-e2e.json.done")
	require.Eventually(t, func() bool {
		_, err := os.Stat(donePath)
		return err == nil
	}, 10*time.Second, 50*time.Millisecond, "executed task never reached outbound")

	// The audit trail recorded the execution.
	auditPath := filepath.Join(wardenDir, "logs", "audit", "audit.jsonl")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(auditPath)
		return err == nil && strings.Contains(string(data), "task_executed")
	}, 5*time.Second, 50*time.Millisecond, "audit trail missing task_executed")
}

func TestRun_EscalationEndToEnd(t *testing.T) {
	_, wardenDir := startTestDaemon(t, integrationConfig())

	inbound := filepath.Join(wardenDir, "queue", "inbound")
	payload := []byte(`{"command": "true", "confidence": 0.2, "criticality": "high", "sensitivity": "restricted"}`)
	require.NoError(t, os.WriteFile(filepath.Join(inbound, "task-esc.json"), payload, 0644))

	marker := filepath.Join(wardenDir, "approvals", "task-esc.awaiting")
	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 10*time.Second, 50*time.Millisecond, "awaiting marker never appeared")

	// The descriptor stays in the inbox while it waits.
	_, err := os.Stat(filepath.Join(inbound, "task-esc.json"))
	assert.NoError(t, err)

	// Approving over the gate lets the next pass execute it.
	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Contains(t, string(data), "HITL")

	approved := filepath.Join(wardenDir, "approvals", "task-esc.approved")
	require.NoError(t, os.WriteFile(approved, []byte(`{"approved_by": "operator"}`), 0644))

	donePath := filepath.Join(wardenDir, "queue", "outbound", "task-esc.json.done")
	require.Eventually(t, func() bool {
		_, err := os.Stat(donePath)
		return err == nil
	}, 10*time.Second, 50*time.Millisecond, "approved task never executed")

	// Both markers are consumed after execution.
	_, awaitErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(awaitErr))
	_, apprErr := os.Stat(approved)
	assert.True(t, os.IsNotExist(apprErr))
}
