package inference

import "github.com/go-go-golems/codeact/pkg/events"

// NullSink discards all events.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) PublishEvent(event events.Event) error {
	return nil
}

var _ EventSink = (*NullSink)(nil)

// SinkFunc adapts a function to EventSink.
type SinkFunc func(event events.Event) error

func (f SinkFunc) PublishEvent(event events.Event) error {
	return f(event)
}
