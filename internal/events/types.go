package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// State events
	EventTypeStateChanged EventType = "state.changed"

	// Pipeline lifecycle events
	EventTypeHeartbeat       EventType = "pipeline.heartbeat"
	EventTypePipelineStarted EventType = "pipeline.started"
	EventTypePipelineStopped EventType = "pipeline.stopped"

	// Status events
	EventTypeNoGameDetected  EventType = "status.no_game"
	EventTypeOCRUnavailable  EventType = "status.ocr_unavailable"
	EventTypeSourceExhausted EventType = "status.source_exhausted"

	// Error events
	EventTypeError EventType = "error"
)

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// FieldChange is one changed field inside a state delta
type FieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// NewStateChangedEvent creates a single delta event for a processed frame,
// carrying every field that changed since the previous snapshot
func NewStateChangedEvent(seq uint64, changes map[string]FieldChange) Event {
	return Event{
		Type:      EventTypeStateChanged,
		Source:    "pipeline",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"seq":     seq,
			"changes": changes,
		},
	}
}

// NewHeartbeatEvent creates a liveness event carrying cycle counters
func NewHeartbeatEvent(frames, dropped uint64) Event {
	return Event{
		Type:      EventTypeHeartbeat,
		Source:    "pipeline",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"frames":  frames,
			"dropped": dropped,
		},
	}
}

// NewStatusEvent creates a status event with a reason message
func NewStatusEvent(eventType EventType, reason string) Event {
	return Event{
		Type:      eventType,
		Source:    "pipeline",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"reason": reason,
		},
	}
}

// NewErrorEvent creates an error event from a non-fatal error
func NewErrorEvent(source string, err error) Event {
	return Event{
		Type:      EventTypeError,
		Source:    source,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"error": err.Error(),
		},
	}
}
