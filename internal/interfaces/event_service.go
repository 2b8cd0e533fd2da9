package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventCredentialsCaptured EventType = "credentials_captured"
	EventCSRFTokenCaptured   EventType = "csrf_token_captured"
	EventLinksChanged        EventType = "links_changed"
	EventAuthMethodsChanged  EventType = "auth_methods_changed"
	EventSyncCompleted       EventType = "sync_completed"
)

// Event represents a system event
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for every event type
	SubscribeAll(handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
