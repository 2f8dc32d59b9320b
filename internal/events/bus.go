package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventTaskParseError is published when a descriptor cannot be decoded.
	EventTaskParseError EventType = "task_parse_error"
	// EventTaskNoCommand is published when a descriptor carries nothing to run.
	EventTaskNoCommand EventType = "task_no_command"
	// EventTaskAwaitingApproval is published the first time a task parks for sign-off.
	EventTaskAwaitingApproval EventType = "task_awaiting_approval"
	// EventTaskApprovedOverride is published when an approved marker admits a non-allowlisted command.
	EventTaskApprovedOverride EventType = "task_approved_override"
	// EventTaskExecuted is published after a command finishes, whatever its exit code.
	EventTaskExecuted EventType = "task_executed"
	// EventTaskExecutionFailed is published when the command exits non-zero or cannot run.
	EventTaskExecutionFailed EventType = "task_execution_failed"
	// EventApprovalRequested is published when a provider delivery is attempted.
	EventApprovalRequested EventType = "approval_requested"

	// EventServiceStarted is published when the supervised service passes its startup probe.
	EventServiceStarted EventType = "service_started"
	// EventServiceStartFailed is published when spawn or the startup window fails.
	EventServiceStartFailed EventType = "service_start_failed"
	// EventServiceProbeFailed is published on a failed monitor liveness probe.
	EventServiceProbeFailed EventType = "service_probe_failed"
	// EventServiceRestarted is published when the monitor replaces an unhealthy child.
	EventServiceRestarted EventType = "service_restarted"
	// EventServiceStopped is published on explicit deactivation.
	EventServiceStopped EventType = "service_stopped"
)

// AllTypes lists every event type, in a stable order, for wiring subscribers
// that want the full stream (the audit logger does).
func AllTypes() []EventType {
	return []EventType{
		EventTaskParseError,
		EventTaskNoCommand,
		EventTaskAwaitingApproval,
		EventTaskApprovedOverride,
		EventTaskExecuted,
		EventTaskExecutionFailed,
		EventApprovalRequested,
		EventServiceStarted,
		EventServiceStartFailed,
		EventServiceProbeFailed,
		EventServiceRestarted,
		EventServiceStopped,
	}
}

// Event represents a system event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus using Publish/Subscribe pattern.
// Events are delivered asynchronously via buffered channels.
// If a subscriber's channel is full, the event is dropped silently.
// Publishers therefore never block and never see a subscriber failure,
// which is the contract the queue and supervisor loops rely on.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for a specific event type.
// The subscriber function is called asynchronously in a goroutine.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	// Start goroutine to deliver events to subscriber
	go func() {
		for event := range ch {
			// Wrap in anonymous function to recover from panics in subscriber
			func() {
				defer func() {
					if r := recover(); r != nil {
						// Silently recover from subscriber panics to prevent bus disruption
					}
				}()
				fn(event)
			}()
		}
	}()

	// Return unsubscribe function
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				// Remove subscriber from slice
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish sends an event to all subscribers of the given type.
// Uses select with default to ensure non-blocking behavior.
// If a subscriber's channel is full, the event is dropped for that subscriber.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	subscribers := b.subscribers[eventType]
	for _, ch := range subscribers {
		// Non-blocking send using select with default
		select {
		case ch <- event:
			// Event delivered successfully
		default:
			// Channel full, drop event silently to prevent blocking
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
