package codeact

import (
	"time"

	"github.com/go-go-golems/codeact/pkg/conversation"
	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/go-go-golems/codeact/pkg/inference"
	"github.com/go-go-golems/codeact/pkg/preview"
	"github.com/go-go-golems/codeact/pkg/prompt"
	"github.com/rs/zerolog"
)

type Option func(*Machine)

func WithID(id string) Option {
	return func(m *Machine) {
		if id != "" {
			m.id = id
		}
	}
}

func WithTitle(title string) Option {
	return func(m *Machine) { m.title = title }
}

func WithEngine(engine inference.Engine) Option {
	return func(m *Machine) { m.engine = engine }
}

// WithMaxTurns sets the turn budget. Values below 1 keep the default.
func WithMaxTurns(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxTurns = n
		}
	}
}

// WithFeedbackDebounce sets the window in which a second result for the turn
// that was just fed back is treated as a duplicate.
func WithFeedbackDebounce(d time.Duration) Option {
	return func(m *Machine) {
		if d >= 0 {
			m.feedbackDebounce = d
		}
	}
}

// WithFeedbackDelay sets the pause between a preview result and the model
// call that carries it.
func WithFeedbackDelay(d time.Duration) Option {
	return func(m *Machine) {
		if d >= 0 {
			m.feedbackDelay = d
		}
	}
}

// WithPreviewer renders code on the server side. Without a previewer the
// machine waits for HandlePreviewResult to be called by a client.
func WithPreviewer(p preview.Previewer) Option {
	return func(m *Machine) { m.previewer = p }
}

func WithSinks(sinks ...events.EventSink) Option {
	return func(m *Machine) { m.sinks = append(m.sinks, sinks...) }
}

func WithRecorder(r Recorder) Option {
	return func(m *Machine) { m.recorder = r }
}

func WithPromptBuilder(b *prompt.Builder) Option {
	return func(m *Machine) { m.builder = b }
}

// WithPromptSchema controls whether the envelope JSON schema is written into
// the system prompt.
func WithPromptSchema(enabled bool) Option {
	return func(m *Machine) { m.promptSchema = enabled }
}

func WithClock(c Clock) Option {
	return func(m *Machine) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithHistoryTokenBudget trims the history sent to the model to budget
// tokens, counted with counter.
func WithHistoryTokenBudget(budget int, counter conversation.TokenCounter) Option {
	return func(m *Machine) {
		m.historyBudget = budget
		m.counter = counter
	}
}

// WithLivePreview renders streaming code once it has been quiet for delay.
// Live results are published as events and never fed back to the model.
func WithLivePreview(delay time.Duration) Option {
	return func(m *Machine) {
		m.livePreview = true
		m.liveDelay = delay
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}
