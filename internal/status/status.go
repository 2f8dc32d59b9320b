// Package status implements the warden status command. It asks a running
// daemon for its snapshot over the admin socket, and falls back to reading
// the workspace directly when no daemon answers; either way the numbers may
// be a beat behind the loops that produce them.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/msageha/warden/internal/approval"
	"github.com/msageha/warden/internal/lock"
	"github.com/msageha/warden/internal/model"
	"github.com/msageha/warden/internal/state"
	"github.com/msageha/warden/internal/uds"
)

type Report struct {
	Daemon       DaemonStatus         `json:"daemon"`
	Queue        model.QueueSnapshot  `json:"queue"`
	Awaiting     []string             `json:"awaiting,omitempty"`
	Service      *model.ServiceRecord `json:"service,omitempty"`
	ServiceState model.ServiceState   `json:"service_state"`
}

type DaemonStatus struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Version string `json:"version,omitempty"`
}

// Run gathers the workspace status and prints it to out.
func Run(wardenDir string, jsonOutput bool, out io.Writer) error {
	report := collect(wardenDir)

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(out, report)
	return nil
}

func collect(wardenDir string) Report {
	var report Report

	if snap, ok := fromDaemon(wardenDir); ok {
		report.Daemon = DaemonStatus{Running: true, PID: snap.DaemonPID, Version: snap.Version}
		report.Queue = snap.Queue
		report.Awaiting = snap.Approvals.Awaiting
		report.Service = snap.Service
	} else {
		// No daemon answering; read the tree directly. A lock file left
		// behind points at whoever held the workspace last.
		report.Daemon = DaemonStatus{
			PID: lock.OwnerPID(filepath.Join(wardenDir, "locks", "daemon.lock")),
		}
		report.Queue = countQueues(wardenDir)
		report.Awaiting = listAwaiting(wardenDir)
		report.Service = readServiceRecord(wardenDir)
	}

	report.ServiceState = model.StateOf(report.Service)
	return report
}

func fromDaemon(wardenDir string) (*model.StatusSnapshot, bool) {
	client := uds.NewClient(filepath.Join(wardenDir, uds.DefaultSocketName))
	resp, err := client.SendCommand("get-status", nil)
	if err != nil || !resp.Success {
		return nil, false
	}
	var snap model.StatusSnapshot
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

func countQueues(wardenDir string) model.QueueSnapshot {
	return model.QueueSnapshot{
		InboundPending: countFiles(filepath.Join(wardenDir, "queue", "inbound"), ""),
		OutboundDone:   countFiles(filepath.Join(wardenDir, "queue", "outbound"), ".done"),
		Quarantined:    countFiles(filepath.Join(wardenDir, "quarantine"), ""),
	}
}

// countFiles counts regular files, skipping hidden files and half-written
// .tmp descriptors. An absent directory counts as zero.
func countFiles(dir, suffix string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		if suffix != "" && !strings.HasSuffix(name, suffix) {
			continue
		}
		n++
	}
	return n
}

func listAwaiting(wardenDir string) []string {
	gate, err := approval.NewGate(filepath.Join(wardenDir, "approvals"))
	if err != nil {
		return nil
	}
	ids, err := gate.Pending()
	if err != nil {
		return nil
	}
	return ids
}

func readServiceRecord(wardenDir string) *model.ServiceRecord {
	st, err := state.NewStore(wardenDir).Load()
	if err != nil || len(st.Services) == 0 {
		return nil
	}
	names := make([]string, 0, len(st.Services))
	for name := range st.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	rec := st.Services[names[0]]
	return &rec
}

func printReport(out io.Writer, r Report) {
	// Daemon
	switch {
	case r.Daemon.Running:
		fmt.Fprintf(out, "Daemon: running (pid %d, v%s)\n", r.Daemon.PID, r.Daemon.Version)
	case r.Daemon.PID != 0:
		fmt.Fprintf(out, "Daemon: stopped (stale lock pid %d)\n", r.Daemon.PID)
	default:
		fmt.Fprintln(out, "Daemon: stopped")
	}

	// Queue
	fmt.Fprintln(out, "\nQueue:")
	fmt.Fprintf(out, "  %-16s %5d\n", "inbound pending", r.Queue.InboundPending)
	fmt.Fprintf(out, "  %-16s %5d\n", "outbound done", r.Queue.OutboundDone)
	fmt.Fprintf(out, "  %-16s %5d\n", "quarantined", r.Queue.Quarantined)

	// Approvals
	if len(r.Awaiting) > 0 {
		fmt.Fprintln(out, "\nAwaiting approval:")
		for _, id := range r.Awaiting {
			fmt.Fprintf(out, "  %s\n", id)
		}
	} else {
		fmt.Fprintln(out, "\nAwaiting approval: none")
	}

	// Service
	if r.Service == nil {
		fmt.Fprintln(out, "\nService: no record")
		return
	}
	pid := 0
	if r.Service.PID != nil {
		pid = *r.Service.PID
	}
	fmt.Fprintf(out, "\nService: %s %s (pid %d, port %d)\n",
		r.Service.Name, r.ServiceState, pid, r.Service.Port)
	fmt.Fprintf(out, "  restarts=%d consecutive_failures=%d version=%d\n",
		r.Service.RestartCount, r.Service.ConsecutiveFailures, r.Service.Version)
}
