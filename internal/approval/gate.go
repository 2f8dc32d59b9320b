// Package approval tracks human sign-off for escalated tasks as marker files
// in the approvals directory. A marker's presence is the whole protocol:
// <task_id>.awaiting means the task is parked pending a decision,
// <task_id>.approved means a human consented to exactly one execution.
// Marker contents are advisory metadata for humans and tooling; nothing
// reads them to make a decision.
//
// Markers do not expire. A leftover .approved marker will consent to a
// future task that reuses the same id, so retiring stale markers is an
// operator action (warden deny), not an automatic one.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/msageha/warden/internal/model"
)

var ErrInvalidTaskID = errors.New("invalid task id")

const (
	awaitingSuffix = ".awaiting"
	approvedSuffix = ".approved"
)

type awaitingMarker struct {
	RequestedAt string `json:"requested_at"`
	Command     string `json:"command,omitempty"`
	Tier        string `json:"tier,omitempty"`
}

type approvedMarker struct {
	ApprovedAt string `json:"approved_at"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

type Gate struct {
	dir string
}

func NewGate(dir string) (*Gate, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create approvals dir: %w", err)
	}
	return &Gate{dir: dir}, nil
}

func (g *Gate) Dir() string {
	return g.dir
}

// Task ids become marker filenames, so they are validated before any join.
func (g *Gate) markerPath(taskID, suffix string) (string, error) {
	if err := model.ValidateTaskID(taskID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTaskID, err)
	}
	return filepath.Join(g.dir, taskID+suffix), nil
}

// AwaitingExists reports whether the task is parked pending a decision.
func (g *Gate) AwaitingExists(taskID string) (bool, error) {
	return g.markerExists(taskID, awaitingSuffix)
}

// ApprovedExists reports whether a human has consented to the task. Callers
// must treat an error as "not approved"; a broken stat never grants
// execution.
func (g *Gate) ApprovedExists(taskID string) (bool, error) {
	return g.markerExists(taskID, approvedSuffix)
}

func (g *Gate) markerExists(taskID, suffix string) (bool, error) {
	path, err := g.markerPath(taskID, suffix)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat marker %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// MarkAwaiting parks the task. Idempotent: a marker left by an earlier scan
// makes this a no-op success, so repeated scans of an unapproved task do not
// churn the directory. The tier, when known, is recorded for humans reading
// the marker.
func (g *Gate) MarkAwaiting(taskID, command, tier string) error {
	path, err := g.markerPath(taskID, awaitingSuffix)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create awaiting marker: %w", err)
	}
	payload, _ := json.MarshalIndent(awaitingMarker{
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
		Command:     command,
		Tier:        tier,
	}, "", "  ")
	_, werr := f.Write(payload)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		// the marker exists, which is what matters; report the lost metadata
		return fmt.Errorf("write awaiting marker metadata: %w", werr)
	}
	return nil
}

// Approve records consent for one future execution of the task id.
func (g *Gate) Approve(taskID, approvedBy string) error {
	path, err := g.markerPath(taskID, approvedSuffix)
	if err != nil {
		return err
	}
	payload, _ := json.MarshalIndent(approvedMarker{
		ApprovedAt: time.Now().UTC().Format(time.RFC3339),
		ApprovedBy: approvedBy,
	}, "", "  ")
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return fmt.Errorf("create approved marker: %w", err)
	}
	return nil
}

// Consume removes both marker kinds for the task. Absent markers are not
// errors; a human may have cleaned up by hand, and consuming after execution
// must succeed no matter which markers exist.
func (g *Gate) Consume(taskID string) error {
	for _, suffix := range []string{awaitingSuffix, approvedSuffix} {
		path, err := g.markerPath(taskID, suffix)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove marker %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// Pending lists task ids with an awaiting marker, sorted for stable output.
func (g *Gate) Pending() ([]string, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return nil, fmt.Errorf("read approvals dir: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, awaitingSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, awaitingSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}
