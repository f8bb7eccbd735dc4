package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/codeact/pkg/codeact"
	"github.com/go-go-golems/codeact/pkg/conversation"
	"github.com/go-go-golems/codeact/pkg/envelope"
	"github.com/go-go-golems/codeact/pkg/preview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(state codeact.State, version int64) codeact.Snapshot {
	start := time.UnixMilli(1_700_000_000_000)
	done := start.Add(2 * time.Second)
	code := envelope.Envelope{Thought: "draw", Action: envelope.ActionExecuteCode, Code: "function BarChartDemo() { return null; }"}
	answer := envelope.Envelope{Thought: "ok", Action: envelope.ActionProvideAnswer, FinalAnswer: "Here is **your** chart."}

	return codeact.Snapshot{
		ID:        "conv-1",
		Title:     "show a bar chart",
		State:     state,
		TurnCount: 2,
		MaxTurns:  8,
		Messages: conversation.NewConversation(
			conversation.NewChatMessage(conversation.RoleUser, "show a bar chart"),
			conversation.NewChatMessage(conversation.RoleAssistant, envelope.Linearize(code), conversation.WithKind(conversation.KindEnvelope)),
		),
		Turns: []codeact.Turn{
			{
				ID: "turn-1", Index: 1, Envelope: &code,
				Preview:  &preview.Result{Success: true, Resolution: &preview.Resolution{Strategy: "declaration", Component: "BarChartDemo"}},
				Feedback: envelope.FeedbackSuccess,
				Metadata: map[string]any{"input_tokens": 120, "output_tokens": float64(40)},
				StartedAt: start, FinishedAt: &done,
			},
			{
				ID: "turn-2", Index: 2, Envelope: &answer,
				Corrections: []string{envelope.CorrectionBackfilledAnswer},
				StartedAt:   done,
			},
		},
		CreatedAt: start,
		UpdatedAt: done,
		Version:   version,
	}
}

func TestRecordAndLoad(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "db", "transcripts.db"))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, testSnapshot(codeact.StateAwaitingModel, 1)))
	require.NoError(t, r.Record(ctx, testSnapshot(codeact.StateTerminated, 2)))

	list, err := r.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "terminated", list[0].State)
	assert.Equal(t, "Here is your chart.", list[0].FinalAnswer)

	list, err = r.List(ctx, Query{State: "idle"})
	require.NoError(t, err)
	assert.Empty(t, list)

	tr, err := r.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, tr.Messages, 2)
	require.Len(t, tr.Turns, 2)

	first := tr.Turns[0]
	assert.Equal(t, "execute_code", first.Action)
	require.NotNil(t, first.PreviewSuccess)
	assert.True(t, *first.PreviewSuccess)
	assert.Equal(t, 120, first.InputTokens)
	assert.Equal(t, 40, first.OutputTokens)
	assert.Equal(t, envelope.FeedbackSuccess, first.Feedback)

	second := tr.Turns[1]
	assert.Nil(t, second.PreviewSuccess)
	assert.Equal(t, []string{envelope.CorrectionBackfilledAnswer}, second.Corrections)
	assert.Zero(t, second.FinishedAtMs)

	_, err = r.Load(ctx, "missing")
	assert.Error(t, err)
}

func TestComponents(t *testing.T) {
	r, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, testSnapshot(codeact.StateTerminated, 1)))
	c := NewComponent("exec-1", "", "ReactDOM.createRoot(root).render(<p/>)", false, "boom")
	c.CreatedAtMs = time.Now().UnixMilli()
	require.NoError(t, r.ArchiveComponent(ctx, c))

	components, err := r.Components(ctx, 0)
	require.NoError(t, err)
	require.Len(t, components, 2)
	assert.Equal(t, "component-exec-1.jsx", components[0].FileName)
	assert.False(t, components[0].Success)
	assert.Equal(t, "bar-chart-demo.jsx", components[1].FileName)
	assert.Equal(t, "conv-1", components[1].ConversationID)

	limited, err := r.Components(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}
