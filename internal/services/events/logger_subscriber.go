package events

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs all events. Token
// values are never part of event payloads, so whole payload maps are safe to log.
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		if payload, ok := event.Payload.(map[string]interface{}); ok {
			for _, field := range []string{"platform", "domain", "outcome", "profile"} {
				if v, ok := payload[field].(string); ok && v != "" {
					logEvent = logEvent.Str(field, v)
				}
			}
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to every event
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	return eventService.SubscribeAll(NewLoggerSubscriber(logger))
}
