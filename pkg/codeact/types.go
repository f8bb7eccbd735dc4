package codeact

import (
	"context"
	"time"

	"github.com/go-go-golems/codeact/pkg/conversation"
	"github.com/go-go-golems/codeact/pkg/envelope"
	"github.com/go-go-golems/codeact/pkg/preview"
	"github.com/pkg/errors"
)

type State string

const (
	StateIdle            State = "idle"
	StateAwaitingModel   State = "awaiting_model"
	StateAwaitingPreview State = "awaiting_preview"
	StateTerminated      State = "terminated"
)

const DefaultMaxTurns = 8

const (
	DefaultFeedbackDebounce = 2 * time.Second
	DefaultFeedbackDelay    = 500 * time.Millisecond
)

var (
	ErrBusy                = errors.New("a model call is already in flight")
	ErrClosed              = errors.New("conversation is closed")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrUnknownConversation = errors.New("unknown conversation")
)

// Outcome tells what the machine did with a preview report.
type Outcome string

const (
	// OutcomeDiscarded: the report names no known turn, or the machine is closed.
	OutcomeDiscarded Outcome = "discarded"
	// OutcomeStale: the report is for a turn that is no longer current.
	OutcomeStale Outcome = "stale"
	// OutcomeDuplicate: the turn already has a result.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeQueued: the turn is still streaming; the report is applied once
	// the envelope is complete.
	OutcomeQueued Outcome = "queued"
	// OutcomeTerminated: the result closed the conversation.
	OutcomeTerminated Outcome = "terminated"
	// OutcomeFeedback: the result is on its way back to the model.
	OutcomeFeedback Outcome = "feedback"
	// OutcomeLive marks results of streaming code, shown but never fed back.
	OutcomeLive Outcome = "live"
)

// PreviewReport is the result of rendering the code of a turn. Code is
// optional; when set it must match the code of the turn for a queued report to
// be applied.
type PreviewReport struct {
	TurnID string         `json:"turn_id"`
	Code   string         `json:"code,omitempty"`
	Result preview.Result `json:"result"`
}

// Turn is one model call and what followed from it.
type Turn struct {
	ID          string             `json:"id"`
	Index       int                `json:"index"`
	Envelope    *envelope.Envelope `json:"envelope,omitempty"`
	Raw         string             `json:"raw,omitempty"`
	Corrections []string           `json:"corrections,omitempty"`
	Violations  []string           `json:"violations,omitempty"`
	Recovered   bool               `json:"recovered,omitempty"`
	Forced      bool               `json:"forced,omitempty"`
	Preview     *preview.Result    `json:"preview,omitempty"`
	Feedback    string             `json:"feedback,omitempty"`
	Diff        string             `json:"diff,omitempty"`
	Error       string             `json:"error,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
}

// Snapshot is a copy of the machine state that is safe to hand out.
type Snapshot struct {
	ID                  string                    `json:"id"`
	Title               string                    `json:"title,omitempty"`
	State               State                     `json:"state"`
	TurnCount           int                       `json:"turn_count"`
	MaxTurns            int                       `json:"max_turns"`
	AwaitingPreview     bool                      `json:"awaiting_preview"`
	WaitingFinalPreview bool                      `json:"waiting_final_preview"`
	CurrentTurnID       string                    `json:"current_turn_id,omitempty"`
	Messages            conversation.Conversation `json:"messages"`
	Turns               []Turn                    `json:"turns"`
	CreatedAt           time.Time                 `json:"created_at"`
	UpdatedAt           time.Time                 `json:"updated_at"`
	// Version grows with every recorded change.
	Version int64 `json:"version"`
}

// Recorder persists snapshots. It is called after every completed step.
type Recorder interface {
	Record(ctx context.Context, snapshot Snapshot) error
}

// Clock is the time source of the machine.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
