package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

// EventSink is anything events can be published to.
type EventSink interface {
	PublishEvent(event Event) error
}

// ctxKey is an unexported type for keys defined in this package.
type ctxKey int

const (
	ctxKeyEventSinks ctxKey = iota
	ctxKeyCorrelation
)

// Correlation identifies the conversation turn an event belongs to.
type Correlation struct {
	ConversationID string
	TurnID         string
	TurnIndex      int
}

// WithCorrelation attaches turn identifiers to the context so that engines can
// stamp them on the events they publish.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelation, c)
}

func CorrelationFromContext(ctx context.Context) Correlation {
	if c, ok := ctx.Value(ctxKeyCorrelation).(Correlation); ok {
		return c
	}
	return Correlation{}
}

// WithEventSinks attaches one or more EventSink instances to the context.
func WithEventSinks(ctx context.Context, sinks ...EventSink) context.Context {
	if len(sinks) == 0 {
		return ctx
	}
	existing := GetEventSinks(ctx)
	combined := append([]EventSink{}, existing...)
	combined = append(combined, sinks...)
	return context.WithValue(ctx, ctxKeyEventSinks, combined)
}

// GetEventSinks returns the list of EventSinks attached to the context.
func GetEventSinks(ctx context.Context) []EventSink {
	if v := ctx.Value(ctxKeyEventSinks); v != nil {
		if sinks, ok := v.([]EventSink); ok {
			return sinks
		}
	}
	return nil
}

// PublishEventToContext publishes the provided event to all EventSinks stored in the context.
// If no sinks are present, this is a no-op.
func PublishEventToContext(ctx context.Context, event Event) {
	sinks := GetEventSinks(ctx)
	if len(sinks) == 0 {
		log.Trace().Str("component", "events.context").Str("event_type", string(event.Type())).Msg("PublishEventToContext: no sinks in context")
		return
	}
	for _, sink := range sinks {
		// Best-effort: ignore individual sink errors to avoid disrupting the flow
		_ = sink.PublishEvent(event)
	}
}
