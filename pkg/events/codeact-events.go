package events

import (
	"github.com/go-go-golems/codeact/pkg/envelope"
	"github.com/go-go-golems/codeact/pkg/partialjson"
	"github.com/rs/zerolog"
)

// EventEnvelopeDelta is published whenever a streamed envelope field grows.
type EventEnvelopeDelta struct {
	EventImpl
	Fields  partialjson.Fields `json:"fields"`
	Changed []string           `json:"changed"`
}

func NewEnvelopeDeltaEvent(metadata EventMetadata, fields partialjson.Fields, changed []string) *EventEnvelopeDelta {
	return &EventEnvelopeDelta{
		EventImpl: EventImpl{Type_: EventTypeEnvelopeDelta, Metadata_: metadata},
		Fields:    fields,
		Changed:   changed,
	}
}

// EventCodeDetected is published once per turn, the first time a non-empty
// code value shows up in the stream.
type EventCodeDetected struct {
	EventImpl
	Code string `json:"code"`
}

func NewCodeDetectedEvent(metadata EventMetadata, code string) *EventCodeDetected {
	return &EventCodeDetected{
		EventImpl: EventImpl{Type_: EventTypeCodeDetected, Metadata_: metadata},
		Code:      code,
	}
}

// EventEnvelope carries the parsed and normalized envelope of a turn.
type EventEnvelope struct {
	EventImpl
	Envelope    envelope.Envelope `json:"envelope"`
	Corrections []string          `json:"corrections,omitempty"`
	Violations  []string          `json:"violations,omitempty"`
	Recovered   bool              `json:"recovered,omitempty"`
	Forced      bool              `json:"forced,omitempty"`
}

func NewEnvelopeEvent(metadata EventMetadata, env envelope.Envelope, corrections []string, violations []string, recovered bool, forced bool) *EventEnvelope {
	return &EventEnvelope{
		EventImpl:   EventImpl{Type_: EventTypeEnvelope, Metadata_: metadata},
		Envelope:    env,
		Corrections: corrections,
		Violations:  violations,
		Recovered:   recovered,
		Forced:      forced,
	}
}

func (e EventEnvelope) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("action", string(e.Envelope.Action))
	ev.Bool("has_code", e.Envelope.HasCode())
	ev.Bool("recovered", e.Recovered)
	ev.Bool("forced", e.Forced)
	if len(e.Corrections) > 0 {
		ev.Strs("corrections", e.Corrections)
	}
}

// EventPreviewRequested asks the preview side to render code for a turn and
// report back with the turn id.
type EventPreviewRequested struct {
	EventImpl
	Code  string `json:"code"`
	Final bool   `json:"final"`
}

func NewPreviewRequestedEvent(metadata EventMetadata, code string, final bool) *EventPreviewRequested {
	return &EventPreviewRequested{
		EventImpl: EventImpl{Type_: EventTypePreviewRequested, Metadata_: metadata},
		Code:      code,
		Final:     final,
	}
}

type EventPreviewResult struct {
	EventImpl
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Outcome string `json:"outcome"`
}

func NewPreviewResultEvent(metadata EventMetadata, success bool, errString string, outcome string) *EventPreviewResult {
	return &EventPreviewResult{
		EventImpl: EventImpl{Type_: EventTypePreviewResult, Metadata_: metadata},
		Success:   success,
		Error:     errString,
		Outcome:   outcome,
	}
}

func (e EventPreviewResult) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Bool("success", e.Success)
	ev.Str("outcome", e.Outcome)
	if e.Error != "" {
		ev.Str("preview_error", e.Error)
	}
}

// EventFeedback is the execution result text that is about to be sent to the
// model.
type EventFeedback struct {
	EventImpl
	Text string `json:"text"`
}

func NewFeedbackEvent(metadata EventMetadata, text string) *EventFeedback {
	return &EventFeedback{
		EventImpl: EventImpl{Type_: EventTypeFeedback, Metadata_: metadata},
		Text:      text,
	}
}

// EventCodeDiff describes how the code of a turn changed from the previous
// code-bearing turn.
type EventCodeDiff struct {
	EventImpl
	Diff    string `json:"diff"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

func NewCodeDiffEvent(metadata EventMetadata, diff string, added, removed int) *EventCodeDiff {
	return &EventCodeDiff{
		EventImpl: EventImpl{Type_: EventTypeCodeDiff, Metadata_: metadata},
		Diff:      diff,
		Added:     added,
		Removed:   removed,
	}
}

type EventStateChange struct {
	EventImpl
	From      string `json:"from"`
	To        string `json:"to"`
	TurnCount int    `json:"turn_count"`
	MaxTurns  int    `json:"max_turns"`
	Reason    string `json:"reason,omitempty"`
}

func NewStateChangeEvent(metadata EventMetadata, from, to string, turnCount, maxTurns int, reason string) *EventStateChange {
	return &EventStateChange{
		EventImpl: EventImpl{Type_: EventTypeStateChange, Metadata_: metadata},
		From:      from,
		To:        to,
		TurnCount: turnCount,
		MaxTurns:  maxTurns,
		Reason:    reason,
	}
}

func (e EventStateChange) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("from", e.From).Str("to", e.To).Int("turn_count", e.TurnCount).Int("max_turns", e.MaxTurns)
	if e.Reason != "" {
		ev.Str("reason", e.Reason)
	}
}
