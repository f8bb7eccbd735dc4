package codeact

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/codeact/pkg/conversation"
	"github.com/go-go-golems/codeact/pkg/envelope"
	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/go-go-golems/codeact/pkg/preview"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	executeReply = `{"thought":"draw it","action":"execute_code","code":"function App() { return <div>chart</div>; }"}`
	answerReply  = `{"thought":"it works","action":"provide_answer","final_answer":"Here is your bar chart."}`
)

// scriptedEngine streams canned replies in a few chunks. The last reply is
// repeated once the script runs out.
type scriptedEngine struct {
	mu      sync.Mutex
	replies []string
	calls   []conversation.Conversation
	err     error
	gate    chan struct{}
}

func (e *scriptedEngine) RunInference(ctx context.Context, messages conversation.Conversation) (*conversation.Message, error) {
	e.mu.Lock()
	i := len(e.calls)
	e.calls = append(e.calls, messages)
	reply := e.replies[len(e.replies)-1]
	if i < len(e.replies) {
		reply = e.replies[i]
	}
	err, gate := e.err, e.gate
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}

	correlation := events.CorrelationFromContext(ctx)
	meta := events.NewMetadata(correlation)
	acc := ""
	step := len(reply)/3 + 1
	for start := 0; start < len(reply); start += step {
		end := start + step
		if end > len(reply) {
			end = len(reply)
		}
		acc += reply[start:end]
		events.PublishEventToContext(ctx, events.NewPartialCompletionEvent(meta, reply[start:end], acc))
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return conversation.NewChatMessage(
		conversation.RoleAssistant, reply,
		conversation.WithKind(conversation.KindEnvelope),
		conversation.WithTurnID(correlation.TurnID),
	), nil
}

func (e *scriptedEngine) Calls() []conversation.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]conversation.Conversation{}, e.calls...)
}

type fakePreviewer struct {
	mu     sync.Mutex
	codes  []string
	result preview.Result
}

func (p *fakePreviewer) Submit(ctx context.Context, code string, cb func(preview.Result)) {
	p.mu.Lock()
	p.codes = append(p.codes, code)
	r := p.result
	p.mu.Unlock()
	go cb(r)
}

func (p *fakePreviewer) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.codes)
}

type collectingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *collectingSink) PublishEvent(ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *collectingSink) Count(t events.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type() == t {
			n++
		}
	}
	return n
}

func newTestMachine(t *testing.T, engine *scriptedEngine, opts ...Option) *Machine {
	t.Helper()
	base := []Option{
		WithEngine(engine),
		WithFeedbackDelay(0),
		WithLogger(zerolog.Nop()),
	}
	m, err := NewMachine(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func waitDone(t *testing.T, m *Machine) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := m.Wait(ctx)
	require.NoError(t, err)
	return s
}

func waitState(t *testing.T, m *Machine, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == state }, 5*time.Second, 5*time.Millisecond)
}

func TestBarChartConversation(t *testing.T) {
	engine := &scriptedEngine{replies: []string{executeReply, answerReply}}
	previewer := &fakePreviewer{result: preview.Result{Success: true}}
	sink := &collectingSink{}
	m := newTestMachine(t, engine, WithPreviewer(previewer), WithSinks(sink))

	_, err := m.Submit(context.Background(), "show a bar chart")
	require.NoError(t, err)

	s := waitDone(t, m)
	assert.Equal(t, StateTerminated, s.State)
	assert.Equal(t, 2, s.TurnCount)
	assert.Equal(t, 1, previewer.Count())
	require.Len(t, s.Turns, 2)
	assert.Equal(t, envelope.FeedbackSuccess, s.Turns[0].Feedback)
	assert.Equal(t, "Here is your bar chart.", s.Turns[1].Envelope.FinalAnswer)

	kinds := []conversation.Kind{}
	for _, msg := range s.Messages {
		kinds = append(kinds, msg.Kind)
	}
	assert.Equal(t, []conversation.Kind{
		conversation.KindPrompt,
		conversation.KindEnvelope,
		conversation.KindFeedback,
		conversation.KindEnvelope,
	}, kinds)
	assert.Contains(t, s.Messages[1].Display, envelope.FeedbackSuccess)
	assert.Equal(t, envelope.FeedbackSuccess, s.Messages[2].Text)

	calls := engine.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, conversation.RoleSystem, calls[1][0].Role)
	last := calls[1][len(calls[1])-1]
	assert.Equal(t, conversation.RoleUser, last.Role)
	assert.Equal(t, envelope.FeedbackSuccess, last.Text)

	require.NoError(t, m.Close())
	assert.Equal(t, 1, sink.Count(events.EventTypeCodeDetected))
	assert.Equal(t, 1, sink.Count(events.EventTypeFeedback))
	assert.Equal(t, 2, sink.Count(events.EventTypeEnvelope))
	assert.Positive(t, sink.Count(events.EventTypeEnvelopeDelta))
}

func TestTurnBudgetForcesAnswerOnLastTurn(t *testing.T) {
	engine := &scriptedEngine{replies: []string{executeReply}}
	previewer := &fakePreviewer{result: preview.Result{Success: false, Error: "boom"}}
	m := newTestMachine(t, engine, WithPreviewer(previewer), WithMaxTurns(3))

	_, err := m.Submit(context.Background(), "keep going")
	require.NoError(t, err)

	s := waitDone(t, m)
	assert.Equal(t, StateTerminated, s.State)
	assert.Equal(t, 3, s.TurnCount)
	require.Len(t, engine.Calls(), 3)
	assert.Equal(t, 3, previewer.Count())

	require.Len(t, s.Turns, 3)
	assert.False(t, s.Turns[1].Forced)
	final := s.Turns[2]
	assert.True(t, final.Forced)
	assert.Equal(t, envelope.ActionProvideAnswer, final.Envelope.Action)
	assert.True(t, final.Envelope.HasCode())
	assert.Contains(t, final.Corrections, envelope.CorrectionForcedTerminal)
	assert.Equal(t, "EXECUTION_RESULT: Error - boom", s.Turns[0].Feedback)

	system := engine.Calls()[2][0].Text
	assert.Contains(t, system, "LAST turn")
}

func TestDuplicateResultsSendOneFeedback(t *testing.T) {
	engine := &scriptedEngine{replies: []string{executeReply, answerReply}}
	m := newTestMachine(t, engine)

	turnID, err := m.Submit(context.Background(), "show a bar chart")
	require.NoError(t, err)
	waitState(t, m, StateAwaitingPreview)

	report := PreviewReport{TurnID: turnID, Result: preview.Result{Success: true}}
	assert.Equal(t, OutcomeFeedback, m.HandlePreviewResult(context.Background(), report))
	assert.Equal(t, OutcomeDuplicate, m.HandlePreviewResult(context.Background(), report))

	s := waitDone(t, m)
	assert.Len(t, engine.Calls(), 2)
	feedback := 0
	for _, msg := range s.Messages {
		if msg.Kind == conversation.KindFeedback {
			feedback++
		}
	}
	assert.Equal(t, 1, feedback)
}

func TestDuplicateWhileFeedbackDelayed(t *testing.T) {
	engine := &scriptedEngine{replies: []string{executeReply}}
	m := newTestMachine(t, engine, WithFeedbackDelay(time.Hour))

	turnID, err := m.Submit(context.Background(), "show a bar chart")
	require.NoError(t, err)
	waitState(t, m, StateAwaitingPreview)

	report := PreviewReport{TurnID: turnID, Result: preview.Result{Success: true}}
	assert.Equal(t, OutcomeFeedback, m.HandlePreviewResult(context.Background(), report))
	assert.Equal(t, OutcomeDuplicate, m.HandlePreviewResult(context.Background(), report))
	assert.Len(t, engine.Calls(), 1)
	assert.Equal(t, StateAwaitingPreview, m.State())
}

func TestResultForSupersededTurnIsStale(t *testing.T) {
	engine := &scriptedEngine{replies: []string{executeReply}}
	m := newTestMachine(t, engine)

	first, err := m.Submit(context.Background(), "show a bar chart")
	require.NoError(t, err)
	waitState(t, m, StateAwaitingPreview)

	second, err := m.Submit(context.Background(), "make it red")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	waitState(t, m, StateAwaitingPreview)

	stale := PreviewReport{TurnID: first, Result: preview.Result{Success: true}}
	assert.Equal(t, OutcomeStale, m.HandlePreviewResult(context.Background(), stale))
	assert.Equal(t, OutcomeDiscarded, m.HandlePreviewResult(context.Background(), PreviewReport{TurnID: "nope"}))
	assert.Len(t, engine.Calls(), 2)
}

func TestResultDuringStreamIsQueued(t *testing.T) {
	gate := make(chan struct{})
	engine := &scriptedEngine{replies: []string{executeReply, answerReply}, gate: gate}
	m := newTestMachine(t, engine)

	turnID, err := m.Submit(context.Background(), "show a bar chart")
	require.NoError(t, err)

	_, err = m.Submit(context.Background(), "again")
	assert.ErrorIs(t, err, ErrBusy)

	require.Eventually(t, func() bool { return m.Snapshot().AwaitingPreview }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateAwaitingModel, m.State())

	report := PreviewReport{TurnID: turnID, Result: preview.Result{Success: true}}
	assert.Equal(t, OutcomeQueued, m.HandlePreviewResult(context.Background(), report))
	close(gate)

	s := waitDone(t, m)
	assert.Equal(t, StateTerminated, s.State)
	assert.Equal(t, 2, s.TurnCount)
	assert.Equal(t, envelope.FeedbackSuccess, s.Turns[0].Feedback)
}

// slowPreviewer holds every evaluation for delay unless its context is
// cancelled first.
type slowPreviewer struct {
	mu          sync.Mutex
	delay       time.Duration
	submissions int
	active      int
	maxActive   int
}

func (p *slowPreviewer) Submit(ctx context.Context, code string, cb func(preview.Result)) {
	p.mu.Lock()
	p.submissions++
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()
	go func() {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
		}
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		cb(preview.Result{Success: true})
	}()
}

func (p *slowPreviewer) stats() (submissions, maxActive int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submissions, p.maxActive
}

func TestLivePreviewNeverOverlapsTurnPreview(t *testing.T) {
	gate := make(chan struct{})
	engine := &scriptedEngine{replies: []string{executeReply, answerReply}, gate: gate}
	previewer := &slowPreviewer{delay: 200 * time.Millisecond}
	sink := &collectingSink{}
	m := newTestMachine(t, engine, WithPreviewer(previewer), WithLivePreview(20*time.Millisecond), WithSinks(sink))

	_, err := m.Submit(context.Background(), "show a bar chart")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		n, _ := previewer.stats()
		return n == 1
	}, 5*time.Second, 5*time.Millisecond)
	close(gate)

	s := waitDone(t, m)
	assert.Equal(t, StateTerminated, s.State)
	assert.Equal(t, envelope.FeedbackSuccess, s.Turns[0].Feedback)

	submissions, maxActive := previewer.stats()
	assert.Equal(t, 2, submissions)
	assert.Equal(t, 1, maxActive)

	// the cancelled live evaluation reports nothing
	require.NoError(t, m.Close())
	assert.Equal(t, 1, sink.Count(events.EventTypePreviewResult))
}

func TestCompleteCodeIsPreviewedWithoutWaiting(t *testing.T) {
	gate := make(chan struct{})
	engine := &scriptedEngine{replies: []string{executeReply, answerReply}, gate: gate}
	previewer := &fakePreviewer{result: preview.Result{Success: true}}
	m := newTestMachine(t, engine, WithPreviewer(previewer), WithLivePreview(time.Hour))

	_, err := m.Submit(context.Background(), "show a bar chart")
	require.NoError(t, err)
	// the closing quote of the code value flushes the live preview
	require.Eventually(t, func() bool { return previewer.Count() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateAwaitingModel, m.State())

	close(gate)
	s := waitDone(t, m)
	assert.Equal(t, StateTerminated, s.State)
	assert.Equal(t, 2, previewer.Count())
}

func TestTransportErrorTerminates(t *testing.T) {
	engine := &scriptedEngine{replies: []string{executeReply}, err: errors.New("connection refused")}
	sink := &collectingSink{}
	m := newTestMachine(t, engine, WithSinks(sink))

	_, err := m.Submit(context.Background(), "show a bar chart")
	require.NoError(t, err)

	s := waitDone(t, m)
	assert.Equal(t, StateTerminated, s.State)
	require.NotEmpty(t, s.Messages)
	notice := s.Messages[len(s.Messages)-1]
	assert.Equal(t, conversation.KindNotice, notice.Kind)
	assert.Contains(t, notice.Text, "connection refused")
	assert.Equal(t, "connection refused", s.Turns[0].Error)

	require.NoError(t, m.Close())
	assert.Equal(t, 1, sink.Count(events.EventTypeError))
}

func TestSubmitAfterTerminationStartsNewEpisode(t *testing.T) {
	engine := &scriptedEngine{replies: []string{answerReply}}
	m := newTestMachine(t, engine, WithMaxTurns(2))

	_, err := m.Submit(context.Background(), "hello")
	require.NoError(t, err)
	s := waitDone(t, m)
	assert.Equal(t, 1, s.TurnCount)

	_, err = m.Submit(context.Background(), "and again")
	require.NoError(t, err)
	s = waitDone(t, m)
	assert.Equal(t, StateTerminated, s.State)
	assert.Equal(t, 1, s.TurnCount)
	assert.Len(t, s.Turns, 2)
	assert.Len(t, s.Messages, 4)

	// the second call carries the whole history
	calls := engine.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1], 4)
}

func TestUnparseableOutputIsRecovered(t *testing.T) {
	engine := &scriptedEngine{replies: []string{"I cannot do JSON today"}}
	m := newTestMachine(t, engine)

	_, err := m.Submit(context.Background(), "hello")
	require.NoError(t, err)
	s := waitDone(t, m)
	assert.Equal(t, StateTerminated, s.State)
	require.Len(t, s.Turns, 1)
	assert.True(t, s.Turns[0].Recovered)
	assert.Equal(t, envelope.Apology(), *s.Turns[0].Envelope)
}

func TestCodeAndFinalAnswerKeepsAwaitingPreview(t *testing.T) {
	engine := &scriptedEngine{replies: []string{
		`{"thought":"x","action":"execute_code","code":"function App() { return null; }","final_answer":"done"}`,
		answerReply,
	}}
	m := newTestMachine(t, engine)

	turnID, err := m.Submit(context.Background(), "hello")
	require.NoError(t, err)
	waitState(t, m, StateAwaitingPreview)

	s := m.Snapshot()
	assert.Empty(t, s.Turns[0].Envelope.FinalAnswer)
	assert.Contains(t, s.Turns[0].Corrections, envelope.CorrectionDroppedFinalAnswer)
	assert.False(t, s.WaitingFinalPreview)

	m.HandlePreviewResult(context.Background(), PreviewReport{TurnID: turnID, Result: preview.Result{Success: true}})
	s = waitDone(t, m)
	assert.Equal(t, 2, s.TurnCount)
}

func TestFinalAnswerWithCodeWaitsForLastPreview(t *testing.T) {
	engine := &scriptedEngine{replies: []string{
		`{"thought":"x","action":"provide_answer","code":"function App() { return null; }","final_answer":"done"}`,
	}}
	m := newTestMachine(t, engine)

	turnID, err := m.Submit(context.Background(), "hello")
	require.NoError(t, err)
	waitState(t, m, StateAwaitingPreview)
	assert.True(t, m.Snapshot().WaitingFinalPreview)

	outcome := m.HandlePreviewResult(context.Background(), PreviewReport{TurnID: turnID, Result: preview.Result{Success: true}})
	assert.Equal(t, OutcomeTerminated, outcome)
	assert.Equal(t, StateTerminated, m.State())
	assert.Len(t, engine.Calls(), 1)
}

type memoryRecorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *memoryRecorder) Record(ctx context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return nil
}

func TestRecorderSeesIncreasingVersions(t *testing.T) {
	engine := &scriptedEngine{replies: []string{executeReply, answerReply}}
	rec := &memoryRecorder{}
	m := newTestMachine(t, engine, WithPreviewer(&fakePreviewer{result: preview.Result{Success: true}}), WithRecorder(rec))

	_, err := m.Submit(context.Background(), "show a bar chart")
	require.NoError(t, err)
	waitDone(t, m)
	require.NoError(t, m.Close())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.snapshots)
	for i := 1; i < len(rec.snapshots); i++ {
		assert.Greater(t, rec.snapshots[i].Version, rec.snapshots[i-1].Version)
	}
	assert.Equal(t, StateTerminated, rec.snapshots[len(rec.snapshots)-1].State)
}

func TestSubmitRejectsEmptyAndClosed(t *testing.T) {
	engine := &scriptedEngine{replies: []string{answerReply}}
	m := newTestMachine(t, engine)

	_, err := m.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	require.NoError(t, m.Close())
	_, err = m.Submit(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, OutcomeDiscarded, m.HandlePreviewResult(context.Background(), PreviewReport{}))
}

func TestCodeDiff(t *testing.T) {
	diff, added, removed := codeDiff("a\nb\nc\n", "a\nB\nc\nd\n")
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, removed)
	assert.True(t, strings.Contains(diff, "- b\n"))
	assert.True(t, strings.Contains(diff, "+ B\n"))
	assert.True(t, strings.Contains(diff, "  a\n"))
}
