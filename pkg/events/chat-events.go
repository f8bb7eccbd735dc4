package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart to EventTypeFinal are for text completion
	EventTypeStart             EventType = "start"
	EventTypeFinal             EventType = "final"
	EventTypePartialCompletion EventType = "partial"
	EventTypeError             EventType = "error"
	EventTypeInterrupt         EventType = "interrupt"

	// Envelope extraction while the model is still streaming
	EventTypeEnvelopeDelta EventType = "envelope-delta"
	EventTypeCodeDetected  EventType = "code-detected"

	// Turn processing once the stream is complete
	EventTypeEnvelope         EventType = "envelope"
	EventTypePreviewRequested EventType = "preview-requested"
	EventTypePreviewResult    EventType = "preview-result"
	EventTypeFeedback         EventType = "feedback"
	EventTypeCodeDiff         EventType = "code-diff"
	EventTypeStateChange      EventType = "state"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Error_    error         `json:"-"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// store payload if the event was deserialized from JSON (see NewEventFromJson), not further used
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))

	if e.Error_ != nil {
		ev.Err(e.Error_)
	}

	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Error() error {
	return e.Error_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventPartialCompletionStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventPartialCompletionStart {
	return &EventPartialCompletionStart{
		EventImpl: EventImpl{
			Type_:     EventTypeStart,
			Metadata_: metadata,
		},
	}
}

var _ Event = &EventPartialCompletionStart{}

type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{
			Type_:     EventTypeInterrupt,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventInterrupt{}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventFinal{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Error_:    err,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
	}
}

var _ Event = &EventError{}

// EventPartialCompletion is the event type for textual partial completion.
type EventPartialCompletion struct {
	EventImpl
	Delta string `json:"delta"`
	// This is the complete completion string so far
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl: EventImpl{
			Type_:     EventTypePartialCompletion,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventPartialCompletion{}

// EventMetadata contains all the information that is passed along with watermill message.
type EventMetadata struct {
	LLMInferenceData
	ID uuid.UUID `json:"message_id" yaml:"message_id" mapstructure:"message_id"`
	// Correlation identifiers
	ConversationID string `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty" mapstructure:"conversation_id"`
	InferenceID    string `json:"inference_id,omitempty" yaml:"inference_id,omitempty" mapstructure:"inference_id"`
	TurnID         string `json:"turn_id,omitempty" yaml:"turn_id,omitempty" mapstructure:"turn_id"`
	TurnIndex      int    `json:"turn_index,omitempty" yaml:"turn_index,omitempty" mapstructure:"turn_index"`
	// Extra carries provider-specific/context values
	Extra map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty" mapstructure:"extra"`
}

// NewMetadata returns metadata with a fresh id and the correlation fields of c.
func NewMetadata(c Correlation) EventMetadata {
	return EventMetadata{
		ID:             uuid.New(),
		ConversationID: c.ConversationID,
		TurnID:         c.TurnID,
		TurnIndex:      c.TurnIndex,
	}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.ConversationID != "" {
		e.Str("conversation_id", em.ConversationID)
	}
	if em.InferenceID != "" {
		e.Str("inference_id", em.InferenceID)
	}
	if em.TurnID != "" {
		e.Str("turn_id", em.TurnID)
	}
	if em.TurnIndex != 0 {
		e.Int("turn_index", em.TurnIndex)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.Temperature != nil {
		e.Float64("temperature", *em.Temperature)
	}
	if em.MaxTokens != nil {
		e.Int("max_tokens", *em.MaxTokens)
	}
	if em.StopReason != nil && *em.StopReason != "" {
		e.Str("stop_reason", *em.StopReason)
	}
	if em.Usage != nil {
		e.Int("input_tokens", em.Usage.InputTokens)
		e.Int("output_tokens", em.Usage.OutputTokens)
	}
	if em.DurationMs != nil {
		e.Int64("duration_ms", *em.DurationMs)
	}
	if len(em.Extra) > 0 {
		e.Dict("extra", zerolog.Dict().Fields(em.Extra))
	}
}

func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("empty event payload")
	}

	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		return typed[EventPartialCompletionStart](e)
	case EventTypePartialCompletion:
		return typed[EventPartialCompletion](e)
	case EventTypeFinal:
		return typed[EventFinal](e)
	case EventTypeError:
		return typed[EventError](e)
	case EventTypeInterrupt:
		return typed[EventInterrupt](e)
	case EventTypeEnvelopeDelta:
		return typed[EventEnvelopeDelta](e)
	case EventTypeCodeDetected:
		return typed[EventCodeDetected](e)
	case EventTypeEnvelope:
		return typed[EventEnvelope](e)
	case EventTypePreviewRequested:
		return typed[EventPreviewRequested](e)
	case EventTypePreviewResult:
		return typed[EventPreviewResult](e)
	case EventTypeFeedback:
		return typed[EventFeedback](e)
	case EventTypeCodeDiff:
		return typed[EventCodeDiff](e)
	case EventTypeStateChange:
		return typed[EventStateChange](e)
	}

	return e, nil
}

func typed[T any](e *EventImpl) (Event, error) {
	ret, ok := ToTypedEvent[T](e)
	if !ok {
		return nil, fmt.Errorf("could not cast event to %T", *new(T))
	}
	ev, ok := any(ret).(Event)
	if !ok {
		return nil, fmt.Errorf("%T is not an event", ret)
	}
	if setter, ok := ev.(interface{ setPayload([]byte) }); ok {
		setter.setPayload(e.payload)
	}
	return ev, nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}

func (e EventPartialCompletion) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("delta", e.Delta)
}

func (e EventFinal) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("text_length", len(e.Text))
}

func (e EventError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("error_string", e.ErrorString)
}
