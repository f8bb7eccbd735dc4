package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplate(t *testing.T) {
	b, err := NewBuilder("")
	require.NoError(t, err)

	out, err := b.Render(TurnInfo{Turn: 2, MaxTurns: 8, Remaining: 6, Libraries: []string{"React", "Recharts"}})
	require.NoError(t, err)
	assert.Contains(t, out, "This is turn 2 of 8.")
	assert.Contains(t, out, "6 turns left")
	assert.Contains(t, out, "React, Recharts")
	assert.NotContains(t, out, "LAST turn")

	out, err = b.Render(TurnInfo{Turn: 8, MaxTurns: 8, Final: true})
	require.NoError(t, err)
	assert.Contains(t, out, "LAST turn")
}

func TestCustomTemplate(t *testing.T) {
	b, err := NewBuilder(`{{ .Turn | add 1 }}/{{ .MaxTurns }}`)
	require.NoError(t, err)
	out, err := b.Render(TurnInfo{Turn: 1, MaxTurns: 3})
	require.NoError(t, err)
	assert.Equal(t, "2/3", out)

	_, err = NewBuilder(`{{ .Turn `)
	assert.Error(t, err)
}
