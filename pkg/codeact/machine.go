// Package codeact runs the turn loop of a conversation: call the model,
// extract the envelope while it streams, render the code it carries, and feed
// the render outcome back until the model gives its final answer or the turn
// budget runs out.
package codeact

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/codeact/pkg/conversation"
	"github.com/go-go-golems/codeact/pkg/envelope"
	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/go-go-golems/codeact/pkg/inference"
	"github.com/go-go-golems/codeact/pkg/preview"
	"github.com/go-go-golems/codeact/pkg/prompt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const transportNotice = "The model could not be reached, the conversation has ended: %s"

// Machine owns the state of one conversation. All transitions happen under
// its lock; model calls, previews and feedback timers run on their own
// goroutines and re-enter through the lock.
type Machine struct {
	mu sync.Mutex

	id           string
	title        string
	engine       inference.Engine
	previewer    preview.Previewer
	sinks        []events.EventSink
	recorder     Recorder
	builder      *prompt.Builder
	promptSchema bool
	clock        Clock
	logger       zerolog.Logger

	maxTurns         int
	feedbackDebounce time.Duration
	feedbackDelay    time.Duration
	historyBudget    int
	counter          conversation.TokenCounter
	livePreview      bool
	liveDelay        time.Duration
	live             *preview.Debouncer
	liveCancel       context.CancelFunc
	liveDone         chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	state               State
	turnCount           int
	awaitingPreview     bool
	waitingFinalPreview bool
	history             conversation.Conversation
	turns               []*Turn
	current             *Turn
	pending             *PreviewReport
	lastCode            string
	lastFeedbackTurn    string
	lastFeedbackAt      time.Time
	feedbackTimer       *time.Timer
	changed             chan struct{}
	createdAt           time.Time
	updatedAt           time.Time
	version             int64

	recMu    sync.Mutex
	recorded int64

	out *outbox
}

func NewMachine(opts ...Option) (*Machine, error) {
	m := &Machine{
		id:               uuid.NewString(),
		maxTurns:         DefaultMaxTurns,
		feedbackDebounce: DefaultFeedbackDebounce,
		feedbackDelay:    DefaultFeedbackDelay,
		promptSchema:     true,
		clock:            systemClock{},
		logger:           log.Logger,
		state:            StateIdle,
		changed:          make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.engine == nil {
		return nil, errors.New("codeact machine needs an engine")
	}
	if m.builder == nil {
		m.builder = prompt.MustNewBuilder("")
	}
	m.logger = m.logger.With().Str("conversation_id", m.id).Logger()

	middlewares := []inference.Middleware{inference.NewLoggingMiddleware(m.logger)}
	if m.historyBudget > 0 {
		if m.counter == nil {
			counter, err := conversation.NewTokenCounter("cl100k_base")
			if err != nil {
				return nil, err
			}
			m.counter = counter
		}
		middlewares = append(middlewares, inference.NewHistoryBudgetMiddleware(m.historyBudget, m.counter))
	}
	m.engine = inference.NewEngineWithMiddleware(m.engine, middlewares...)

	if m.livePreview && m.previewer != nil {
		m.live = preview.NewDebouncer(m.liveDelay, m.previewLive)
	}

	m.createdAt = m.clock.Now()
	m.updatedAt = m.createdAt
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.out = newOutbox(m.sinks, m.logger)
	return m, nil
}

func (m *Machine) ID() string {
	return m.id
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Submit adds a user message and starts a model call. It returns the id of
// the new turn, or ErrBusy while a model call is in flight. A terminated
// conversation starts a new episode with a fresh turn budget; the history is
// kept.
func (m *Machine) Submit(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}
	switch m.state {
	case StateAwaitingModel:
		return "", ErrBusy
	case StateTerminated:
		m.turnCount = 0
		m.lastCode = ""
		m.lastFeedbackTurn = ""
	case StateAwaitingPreview:
		// the user moved on, results for the pending turn become stale
		m.stopFeedbackTimerLocked()
		m.logger.Debug().Msg("user message supersedes pending preview")
	case StateIdle:
	}
	if m.title == "" {
		m.title = truncate(text, 80)
	}

	msg := conversation.NewChatMessage(
		conversation.RoleUser, text,
		conversation.WithKind(conversation.KindPrompt),
		conversation.WithTime(m.clock.Now()),
	)
	turn := m.startTurnLocked(msg, "user message")
	zerolog.Ctx(ctx).Debug().Str("turn_id", turn.ID).Msg("submitted user message")
	return turn.ID, nil
}

func (m *Machine) startTurnLocked(input *conversation.Message, reason string) *Turn {
	now := m.clock.Now()
	turn := &Turn{
		ID:        uuid.NewString(),
		Index:     m.turnCount + 1,
		StartedAt: now,
	}
	input.TurnID = turn.ID
	m.history = append(m.history, input)
	m.turns = append(m.turns, turn)
	m.current = turn
	m.awaitingPreview = false
	m.waitingFinalPreview = false
	m.pending = nil
	if m.live != nil {
		m.live.Reset()
	}
	m.setStateLocked(StateAwaitingModel, reason)

	conv := conversation.NewConversation()
	if system := m.systemPromptLocked(turn.Index); system != "" {
		conv = append(conv, conversation.NewChatMessage(conversation.RoleSystem, system))
	}
	conv = append(conv, m.history.ForModel().Clone()...)

	m.wg.Add(1)
	go m.runTurn(turn, conv)
	return turn
}

func (m *Machine) systemPromptLocked(ordinal int) string {
	info := prompt.TurnInfo{
		Turn:      ordinal,
		MaxTurns:  m.maxTurns,
		Remaining: m.maxTurns - ordinal,
		Final:     ordinal >= m.maxTurns,
		Libraries: preview.Libraries,
	}
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	if m.promptSchema {
		info.Schema = string(envelope.SchemaJSON())
	}
	ret, err := m.builder.Render(info)
	if err != nil {
		m.logger.Error().Err(err).Msg("could not render system prompt")
		return ""
	}
	return ret
}

func (m *Machine) runTurn(turn *Turn, conv conversation.Conversation) {
	defer m.wg.Done()

	ctx := events.WithCorrelation(m.ctx, events.Correlation{
		ConversationID: m.id,
		TurnID:         turn.ID,
		TurnIndex:      turn.Index,
	})
	ctx = m.logger.With().Str("turn_id", turn.ID).Logger().WithContext(ctx)
	// engine events go through the outbox to keep their order with ours
	ctx = events.WithEventSinks(ctx, m.out, newStreamSink(m, turn))

	msg, err := m.engine.RunInference(ctx, conv)
	if err != nil {
		m.failTurn(turn, err)
		return
	}
	m.completeTurn(turn, msg)
}

// failTurn ends the conversation after a transport error. The messages
// already in the history stay.
func (m *Machine) failTurn(turn *Turn, err error) {
	m.mu.Lock()
	if m.closed || m.current != turn {
		m.mu.Unlock()
		return
	}
	m.logger.Error().Err(err).Str("turn_id", turn.ID).Msg("model call failed")

	now := m.clock.Now()
	turn.Error = err.Error()
	turn.FinishedAt = &now
	notice := conversation.NewChatMessage(
		conversation.RoleAssistant, fmt.Sprintf(transportNotice, err),
		conversation.WithKind(conversation.KindNotice),
		conversation.WithTurnID(turn.ID),
		conversation.WithTime(now),
	)
	m.history = append(m.history, notice)
	m.emitLocked(events.NewErrorEvent(m.metadata(turn), err))
	m.terminateLocked("transport error")
	snapshot := m.recordSnapshotLocked()
	m.mu.Unlock()

	m.record(snapshot)
}

// completeTurn post-processes the full model output and decides whether to
// wait for a preview or to stop.
func (m *Machine) completeTurn(turn *Turn, msg *conversation.Message) {
	m.mu.Lock()
	if m.closed || m.current != turn {
		m.mu.Unlock()
		return
	}
	if m.live != nil {
		m.live.Reset()
	}
	liveDone := m.cancelLiveLocked()

	now := m.clock.Now()
	env, report := envelope.Parse(msg.Text)
	if report.Recovered {
		m.logger.Warn().Err(report.Err).Str("turn_id", turn.ID).Msg("could not parse model output, using apology")
	}
	if len(report.Violations) > 0 {
		m.logger.Debug().Strs("violations", report.Violations).Str("turn_id", turn.ID).Msg("envelope does not match schema")
	}
	forced := turn.Index >= m.maxTurns
	env, corrections := envelope.Normalize(env, forced)

	turn.Envelope = &env
	turn.Raw = msg.Text
	turn.Corrections = corrections
	turn.Violations = report.Violations
	turn.Recovered = report.Recovered
	turn.Forced = forced
	turn.Metadata = msg.Metadata
	m.turnCount++

	m.history = append(m.history, conversation.NewChatMessage(
		conversation.RoleAssistant, envelope.Linearize(env),
		conversation.WithKind(conversation.KindEnvelope),
		conversation.WithTurnID(turn.ID),
		conversation.WithTime(now),
		conversation.WithMetadata(msg.Metadata),
	))

	meta := m.metadata(turn)
	m.emitLocked(events.NewEnvelopeEvent(meta, env, corrections, report.Violations, report.Recovered, forced))

	if !env.HasCode() {
		turn.FinishedAt = &now
		reason := "final answer"
		if forced {
			reason = "turn budget exhausted"
		}
		m.terminateLocked(reason)
		snapshot := m.recordSnapshotLocked()
		m.mu.Unlock()
		m.record(snapshot)
		return
	}

	if m.lastCode != "" && m.lastCode != env.Code {
		diff, added, removed := codeDiff(m.lastCode, env.Code)
		turn.Diff = diff
		m.emitLocked(events.NewCodeDiffEvent(meta, diff, added, removed))
	}
	m.lastCode = env.Code
	m.awaitingPreview = true
	m.waitingFinalPreview = env.Action.IsTerminal()
	m.setStateLocked(StateAwaitingPreview, string(env.Action))

	pending := m.pending
	m.pending = nil
	if pending != nil && (pending.Code == "" || pending.Code == env.Code) {
		outcome := m.applyResultLocked(turn, pending.Result)
		m.logger.Debug().Str("turn_id", turn.ID).Str("outcome", string(outcome)).Msg("applied queued preview result")
		snapshot := m.recordSnapshotLocked()
		m.mu.Unlock()
		m.record(snapshot)
		return
	}

	m.emitLocked(events.NewPreviewRequestedEvent(meta, env.Code, m.waitingFinalPreview))
	previewer := m.previewer
	if previewer != nil {
		m.wg.Add(1)
	}
	snapshot := m.recordSnapshotLocked()
	m.mu.Unlock()

	m.record(snapshot)
	if previewer != nil {
		// one evaluation at a time per conversation
		<-liveDone
		turnID, code := turn.ID, env.Code
		previewer.Submit(m.ctx, code, func(r preview.Result) {
			defer m.wg.Done()
			m.HandlePreviewResult(m.ctx, PreviewReport{TurnID: turnID, Code: code, Result: r})
		})
	}
}

// HandlePreviewResult applies the render outcome of a turn. Results for
// turns that are no longer current, and repeated results for the same turn,
// are dropped.
func (m *Machine) HandlePreviewResult(ctx context.Context, report PreviewReport) Outcome {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return OutcomeDiscarded
	}

	turn := m.findTurnLocked(report.TurnID)
	var outcome Outcome
	switch {
	case turn == nil:
		outcome = OutcomeDiscarded
	case turn.ID == m.lastFeedbackTurn && m.clock.Now().Sub(m.lastFeedbackAt) < m.feedbackDebounce:
		outcome = OutcomeDuplicate
	case turn != m.current:
		outcome = OutcomeStale
	case turn.Preview != nil:
		outcome = OutcomeDuplicate
	case m.state == StateAwaitingModel && m.awaitingPreview:
		r := report
		m.pending = &r
		outcome = OutcomeQueued
	case m.state == StateAwaitingPreview && m.awaitingPreview:
		outcome = m.applyResultLocked(turn, report.Result)
	default:
		outcome = OutcomeDiscarded
	}

	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &m.logger
	}
	l.Debug().Str("turn_id", report.TurnID).Str("outcome", string(outcome)).Bool("success", report.Result.Success).Msg("preview result")

	if outcome != OutcomeFeedback && outcome != OutcomeTerminated {
		m.mu.Unlock()
		return outcome
	}
	snapshot := m.recordSnapshotLocked()
	m.mu.Unlock()
	m.record(snapshot)
	return outcome
}

func (m *Machine) applyResultLocked(turn *Turn, result preview.Result) Outcome {
	now := m.clock.Now()
	r := result
	turn.Preview = &r
	m.awaitingPreview = false
	meta := m.metadata(turn)

	if m.waitingFinalPreview || m.turnCount >= m.maxTurns {
		reason := "final preview rendered"
		if !m.waitingFinalPreview {
			reason = "turn budget exhausted"
		}
		turn.FinishedAt = &now
		m.emitLocked(events.NewPreviewResultEvent(meta, r.Success, r.Error, string(OutcomeTerminated)))
		m.terminateLocked(reason)
		return OutcomeTerminated
	}

	text := envelope.FormatFeedback(r.Success, r.Error)
	turn.Feedback = text
	turn.FinishedAt = &now
	if msg, ok := m.history.FindTurn(turn.ID, conversation.KindEnvelope); ok {
		msg.AppendDisplay(text)
	}
	m.lastFeedbackTurn = turn.ID
	m.lastFeedbackAt = now
	m.emitLocked(events.NewPreviewResultEvent(meta, r.Success, r.Error, string(OutcomeFeedback)))
	m.emitLocked(events.NewFeedbackEvent(meta, text))
	m.scheduleFeedbackLocked(turn, text)
	return OutcomeFeedback
}

func (m *Machine) scheduleFeedbackLocked(turn *Turn, text string) {
	m.wg.Add(1)
	send := func() {
		defer m.wg.Done()
		m.sendFeedback(turn, text)
	}
	if m.feedbackDelay <= 0 {
		go send()
		return
	}
	m.feedbackTimer = time.AfterFunc(m.feedbackDelay, send)
}

func (m *Machine) stopFeedbackTimerLocked() {
	if m.feedbackTimer != nil && m.feedbackTimer.Stop() {
		m.wg.Done()
	}
	m.feedbackTimer = nil
}

func (m *Machine) sendFeedback(turn *Turn, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedbackTimer = nil
	if m.closed || m.current != turn || m.state != StateAwaitingPreview || m.awaitingPreview {
		m.logger.Debug().Str("turn_id", turn.ID).Msg("dropping superseded feedback")
		return
	}
	msg := conversation.NewChatMessage(
		conversation.RoleUser, text,
		conversation.WithKind(conversation.KindFeedback),
		conversation.WithTime(m.clock.Now()),
	)
	m.startTurnLocked(msg, "feedback")
}

func (m *Machine) codeDetected(turn *Turn, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.current != turn || m.state != StateAwaitingModel {
		return
	}
	m.awaitingPreview = true
	m.emitLocked(events.NewCodeDetectedEvent(m.metadata(turn), code))
}

// previewLive renders streaming code. The result is published for display
// only. A newer snippet replaces the evaluation in flight.
func (m *Machine) previewLive(code string) {
	m.mu.Lock()
	if m.closed || m.current == nil || m.state != StateAwaitingModel {
		m.mu.Unlock()
		return
	}
	meta := m.metadata(m.current)
	prev := m.cancelLiveLocked()
	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	m.liveCancel, m.liveDone = cancel, done
	m.wg.Add(1)
	m.mu.Unlock()

	finish := func() {
		cancel()
		close(done)
		m.wg.Done()
	}
	go func() {
		<-prev
		if ctx.Err() != nil {
			finish()
			return
		}
		m.emit(events.NewPreviewRequestedEvent(meta, code, false))
		m.previewer.Submit(ctx, code, func(r preview.Result) {
			defer finish()
			if ctx.Err() != nil {
				return
			}
			m.emit(events.NewPreviewResultEvent(meta, r.Success, r.Error, string(OutcomeLive)))
		})
	}()
}

// cancelLiveLocked cancels the live evaluation in flight. The returned
// channel is closed once it has reported.
func (m *Machine) cancelLiveLocked() <-chan struct{} {
	if m.liveCancel == nil {
		return closedChan
	}
	m.liveCancel()
	done := m.liveDone
	m.liveCancel, m.liveDone = nil, nil
	return done
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func (m *Machine) terminateLocked(reason string) {
	m.awaitingPreview = false
	m.waitingFinalPreview = false
	m.pending = nil
	m.current = nil
	m.cancelLiveLocked()
	m.stopFeedbackTimerLocked()
	m.setStateLocked(StateTerminated, reason)
}

func (m *Machine) setStateLocked(to State, reason string) {
	from := m.state
	m.state = to
	m.updatedAt = m.clock.Now()
	close(m.changed)
	m.changed = make(chan struct{})

	var meta events.EventMetadata
	if m.current != nil {
		meta = m.metadata(m.current)
	} else {
		meta = events.NewMetadata(events.Correlation{ConversationID: m.id})
	}
	m.logger.Debug().Str("from", string(from)).Str("to", string(to)).Int("turn_count", m.turnCount).Str("reason", reason).Msg("state change")
	m.emitLocked(events.NewStateChangeEvent(meta, string(from), string(to), m.turnCount, m.maxTurns, reason))
}

func (m *Machine) findTurnLocked(id string) *Turn {
	for i := len(m.turns) - 1; i >= 0; i-- {
		if m.turns[i].ID == id {
			return m.turns[i]
		}
	}
	return nil
}

func (m *Machine) metadata(turn *Turn) events.EventMetadata {
	return events.NewMetadata(events.Correlation{
		ConversationID: m.id,
		TurnID:         turn.ID,
		TurnIndex:      turn.Index,
	})
}

func (m *Machine) emitLocked(ev events.Event) {
	m.out.push(ev)
}

func (m *Machine) emit(evs ...events.Event) {
	m.out.push(evs...)
}

// Wait blocks until the conversation is at rest (idle or terminated) and
// returns its snapshot.
func (m *Machine) Wait(ctx context.Context) (Snapshot, error) {
	for {
		m.mu.Lock()
		if m.state == StateIdle || m.state == StateTerminated {
			s := m.snapshotLocked()
			m.mu.Unlock()
			return s, nil
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		}
	}
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:                  m.id,
		Title:               m.title,
		State:               m.state,
		TurnCount:           m.turnCount,
		MaxTurns:            m.maxTurns,
		AwaitingPreview:     m.awaitingPreview,
		WaitingFinalPreview: m.waitingFinalPreview,
		Messages:            m.history.Clone(),
		Turns:               make([]Turn, 0, len(m.turns)),
		CreatedAt:           m.createdAt,
		UpdatedAt:           m.updatedAt,
		Version:             m.version,
	}
	if m.current != nil {
		s.CurrentTurnID = m.current.ID
	}
	for _, t := range m.turns {
		s.Turns = append(s.Turns, *t)
	}
	return s
}

func (m *Machine) recordSnapshotLocked() Snapshot {
	m.version++
	return m.snapshotLocked()
}

// record hands a snapshot to the recorder. Snapshots older than the last
// recorded one are skipped.
func (m *Machine) record(s Snapshot) {
	if m.recorder == nil {
		return
	}
	m.recMu.Lock()
	defer m.recMu.Unlock()
	if s.Version <= m.recorded {
		return
	}
	if err := m.recorder.Record(context.WithoutCancel(m.ctx), s); err != nil {
		m.logger.Warn().Err(err).Msg("could not record conversation")
		return
	}
	m.recorded = s.Version
}

// Close cancels the model call in flight, stops timers and waits for every
// goroutine of the machine, including the event publisher.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopFeedbackTimerLocked()
	if m.live != nil {
		m.live.Stop()
	}
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
	m.out.close()
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
