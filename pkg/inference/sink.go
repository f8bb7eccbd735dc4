package inference

import "github.com/go-go-golems/codeact/pkg/events"

// EventSink represents a destination for inference events.
type EventSink interface {
	// PublishEvent publishes an event to the sink.
	// Returns an error if the event could not be published.
	PublishEvent(event events.Event) error
}

var _ events.EventSink = (EventSink)(nil)
