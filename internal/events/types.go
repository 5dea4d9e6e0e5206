package events

// Event type constants for kelindar/event.
const (
	TypeCameraStateChanged uint32 = iota + 1
	TypeSessionCreated
	TypeSessionEvicted
	TypeSessionClosed
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CameraStateChangedEvent represents a camera connection state transition.
type CameraStateChangedEvent struct {
	From      string `json:"from" example:"connecting" doc:"Previous connection state"`
	To        string `json:"to" example:"connected" doc:"New connection state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Transition timestamp"`
}

// Type returns the event type identifier for CameraStateChangedEvent.
func (e CameraStateChangedEvent) Type() uint32 { return TypeCameraStateChanged }

// SessionCreatedEvent represents a new client binding to the streaming slot.
type SessionCreatedEvent struct {
	ClientID  string `json:"client_id" example:"7f3c9a1e" doc:"Client identifier"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Binding timestamp"`
}

// Type returns the event type identifier for SessionCreatedEvent.
func (e SessionCreatedEvent) Type() uint32 { return TypeSessionCreated }

// SessionEvictedEvent represents a client losing the slot to a newer one
// or to an operator force release.
type SessionEvictedEvent struct {
	ClientID  string `json:"client_id" example:"7f3c9a1e" doc:"Evicted client identifier"`
	Reason    string `json:"reason" example:"superseded" doc:"Eviction reason"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Eviction timestamp"`
}

// Type returns the event type identifier for SessionEvictedEvent.
func (e SessionEvictedEvent) Type() uint32 { return TypeSessionEvicted }

// SessionClosedEvent represents a session ending on the client's initiative
// or through connection failure.
type SessionClosedEvent struct {
	ClientID  string `json:"client_id" example:"7f3c9a1e" doc:"Client identifier"`
	State     string `json:"state" example:"closed" doc:"Final connection state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Close timestamp"`
}

// Type returns the event type identifier for SessionClosedEvent.
func (e SessionClosedEvent) Type() uint32 { return TypeSessionClosed }
