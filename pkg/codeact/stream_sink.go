package codeact

import (
	"sync"

	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/go-go-golems/codeact/pkg/partialjson"
)

// streamSink watches the partial completions of one turn and turns them into
// envelope field deltas. The first non-empty code flags the machine as
// awaiting a preview before the stream ends.
type streamSink struct {
	m    *Machine
	turn *Turn

	mu       sync.Mutex
	prev     partialjson.Fields
	codeSeen bool
	codeDone bool
}

func newStreamSink(m *Machine, turn *Turn) *streamSink {
	return &streamSink{m: m, turn: turn}
}

func (s *streamSink) PublishEvent(ev events.Event) error {
	partial, ok := ev.(*events.EventPartialCompletion)
	if !ok || partial.Metadata().TurnID != s.turn.ID {
		return nil
	}

	fields := partialjson.ExtractFields(partial.Completion)

	s.mu.Lock()
	changed := fields.Changed(s.prev)
	s.prev = fields
	first := !s.codeSeen && fields.HasCode()
	if first {
		s.codeSeen = true
	}
	done := !s.codeDone && fields.HasCode() && fields.Code.Complete
	if done {
		s.codeDone = true
	}
	s.mu.Unlock()

	if len(changed) > 0 {
		s.m.emit(events.NewEnvelopeDeltaEvent(s.m.metadata(s.turn), fields, changed))
	}
	if !fields.HasCode() {
		return nil
	}
	code, _ := fields.Get(partialjson.FieldCode)
	if first {
		s.m.codeDetected(s.turn, code)
	}
	if s.m.live != nil {
		s.m.live.Update(code)
		if done {
			s.m.live.Flush()
		}
	}
	return nil
}

var _ events.EventSink = (*streamSink)(nil)
