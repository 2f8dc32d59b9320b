package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/warden/internal/model"
	"github.com/msageha/warden/internal/supervisor"
	"github.com/msageha/warden/internal/uds"
)

// StartParams is the request payload for the request-start UDS command.
// Port 0 means "use the configured service port".
type StartParams struct {
	Port int `json:"port,omitempty"`
}

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok", "version": Version})
	})

	d.server.Handle("get-status", d.handleGetStatus)
	d.server.Handle("request-start", d.handleRequestStart)
	d.server.Handle("request-stop", d.handleRequestStop)

	d.server.Handle("scan", func(req *uds.Request) *uds.Response {
		d.processor.ScanOnce(d.ctx)
		return uds.SuccessResponse(map[string]string{"status": "scanned"})
	})

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.log(LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handleGetStatus(req *uds.Request) *uds.Response {
	return uds.SuccessResponse(d.statusSnapshot())
}

// statusSnapshot assembles the current picture. Every read here tolerates
// failure; a status request must never error out just because one corner of
// the tree is unreadable.
func (d *Daemon) statusSnapshot() *model.StatusSnapshot {
	snap := &model.StatusSnapshot{
		DaemonPID: os.Getpid(),
		Version:   Version,
		StartedAt: d.startedAt.UTC().Format(time.RFC3339),
	}

	snap.Queue.InboundPending = d.countFiles(filepath.Join(d.wardenDir, "queue", "inbound"), "")
	snap.Queue.OutboundDone = d.countFiles(filepath.Join(d.wardenDir, "queue", "outbound"), ".done")
	snap.Queue.Quarantined = d.countFiles(filepath.Join(d.wardenDir, "quarantine"), "")

	pending, err := d.processor.Gate().Pending()
	if err != nil {
		d.log(LogLevelWarn, "list pending approvals error=%v", err)
	} else {
		snap.Approvals.Awaiting = pending
	}

	rec, ok, err := d.store.Get(d.super.Name())
	if err != nil {
		d.log(LogLevelWarn, "read service record error=%v", err)
	} else if ok {
		snap.Service = &rec
	}

	return snap
}

func (d *Daemon) handleRequestStart(req *uds.Request) *uds.Response {
	var params StartParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
		}
	}
	if params.Port < 0 || params.Port > 65535 {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("port out of range: %d", params.Port))
	}
	if strings.TrimSpace(d.config.Service.Command) == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "service.command is not configured")
	}

	if err := d.super.Start(d.ctx, params.Port); err != nil {
		if errors.Is(err, supervisor.ErrPortInUse) || errors.Is(err, supervisor.ErrAlreadyRunning) {
			return uds.ErrorResponse(uds.ErrCodeConflict, err.Error())
		}
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}

	rec, ok, err := d.store.Get(d.super.Name())
	if err != nil || !ok {
		return uds.SuccessResponse(map[string]string{"status": "started"})
	}
	return uds.SuccessResponse(rec)
}

func (d *Daemon) handleRequestStop(req *uds.Request) *uds.Response {
	stopCtx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	if err := d.super.Stop(stopCtx); err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(map[string]string{"status": "stopped"})
}

// countFiles counts regular files in dir, optionally filtered by suffix.
// Hidden files and an absent directory count as zero.
func (d *Daemon) countFiles(dir, suffix string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			d.log(LogLevelWarn, "count files dir=%s error=%v", dir, err)
		}
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
