package model

// StatusSnapshot is the full picture the daemon reports over the admin
// socket: daemon identity, queue depth, approvals still waiting, and the
// supervised service record. Every field is a point-in-time read; by the
// time a caller looks at it the loops may have moved on.
type StatusSnapshot struct {
	DaemonPID int    `json:"daemon_pid"`
	Version   string `json:"version"`
	StartedAt string `json:"started_at"`

	Queue     QueueSnapshot    `json:"queue"`
	Approvals ApprovalSnapshot `json:"approvals"`
	Service   *ServiceRecord   `json:"service,omitempty"`
}

type QueueSnapshot struct {
	InboundPending int `json:"inbound_pending"`
	OutboundDone   int `json:"outbound_done"`
	Quarantined    int `json:"quarantined"`
}

type ApprovalSnapshot struct {
	Awaiting []string `json:"awaiting"`
}

// ServiceState collapses a ServiceRecord into one word for display.
type ServiceState string

const (
	ServiceStateRunning  ServiceState = "running"
	ServiceStateDegraded ServiceState = "degraded"
	ServiceStateStopped  ServiceState = "stopped"
)

// StateOf derives the display state from a record. A listening service with
// recent probe failures is degraded, not stopped; the monitor may still
// recover it without a restart.
func StateOf(rec *ServiceRecord) ServiceState {
	switch {
	case rec == nil || !rec.Listening:
		return ServiceStateStopped
	case rec.ConsecutiveFailures > 0:
		return ServiceStateDegraded
	default:
		return ServiceStateRunning
	}
}
