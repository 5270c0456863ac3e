package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes every event as a structured log line.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify logs the event. Failure topics are logged at warn level.
func (n LogNotifier) Notify(_ context.Context, event Event) error {
	evt := n.Logger.Info()
	switch event.Topic {
	case TopicCheckoutFailed, TopicCartClearFailed, TopicSessionExpired:
		evt = n.Logger.Warn()
	}
	evt.Str("event_id", event.ID.String()).
		Str("topic", event.Topic).
		Str("aggregate_id", event.AggregateID).
		RawJSON("payload", event.Payload).
		Msg("domain_event")
	return nil
}
