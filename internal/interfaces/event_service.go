package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventTokenRefreshed  EventType = "token_refreshed"  // unattended refresh succeeded
	EventTokenUpdated    EventType = "token_updated"    // token replaced via the admin surface
	EventRefreshFailed   EventType = "refresh_failed"   // one attempt failed (soft or transient)
	EventRefreshPaused   EventType = "refresh_paused"   // scheduler entered PAUSED
	EventRefreshResumed  EventType = "refresh_resumed"  // scheduler returned to ACTIVE
	EventAlertSent       EventType = "alert_sent"       // operator alert delivered
	EventChallengeIssued EventType = "challenge_issued" // MFA number-matching code observed
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the in-process pub/sub bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for every event type
	SubscribeAll(handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error
}
