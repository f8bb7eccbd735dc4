package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func TestTrimToBudgetKeepsSystemAndRecent(t *testing.T) {
	c := NewConversation(
		NewChatMessage(RoleSystem, "sys prompt"),
		NewChatMessage(RoleUser, "one two three"),
		NewChatMessage(RoleAssistant, "four five six"),
		NewChatMessage(RoleUser, "seven"),
	)

	// system: 2+4, last: 1+4, previous: 3+4
	trimmed := TrimToBudget(c, 18, wordCounter{})
	require.Len(t, trimmed, 3)
	assert.Equal(t, RoleSystem, trimmed[0].Role)
	assert.Equal(t, "four five six", trimmed[1].Text)
	assert.Equal(t, "seven", trimmed[2].Text)

	assert.Len(t, TrimToBudget(c, 0, wordCounter{}), 4)
	assert.Len(t, TrimToBudget(c, 1, wordCounter{}), 2)
}

func TestTrimToBudgetLongHistoryKeepsSystemPrompt(t *testing.T) {
	c := NewConversation(NewChatMessage(RoleSystem, "reply with a json envelope"))
	for i := 0; i < 20; i++ {
		c = append(c, NewChatMessage(RoleUser, "some words here"))
	}
	c = append(c, NewChatMessage(RoleUser, "final"))

	// system: 5+4, final: 1+4, each older message 3+4
	trimmed := TrimToBudget(c, 28, wordCounter{})
	require.Len(t, trimmed, 4)
	assert.Equal(t, RoleSystem, trimmed[0].Role)
	assert.Equal(t, "reply with a json envelope", trimmed[0].Text)
	assert.Equal(t, "final", trimmed[3].Text)
}

func TestTiktokenCounter(t *testing.T) {
	counter, err := NewTokenCounter("cl100k_base")
	require.NoError(t, err)
	assert.Greater(t, counter.Count("hello world, this is a test"), 3)
}

func TestCloneAndDisplay(t *testing.T) {
	m := NewChatMessage(RoleAssistant, "Thought: x", WithTurnID("t1"), WithKind(KindEnvelope))
	c := NewConversation(m, NewChatMessage(RoleAssistant, "oops", WithKind(KindNotice)))

	cp := c.Clone()
	m.AppendDisplay("EXECUTION_RESULT: Success!")
	assert.Equal(t, "Thought: x\n\nEXECUTION_RESULT: Success!", m.Display)
	assert.Empty(t, cp[0].Display)

	found, ok := c.FindTurn("t1", KindEnvelope)
	require.True(t, ok)
	assert.Same(t, m, found)
	assert.Len(t, c.ForModel(), 1)
}
