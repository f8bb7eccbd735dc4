package inference

import (
	"context"
	"strings"
	"testing"

	"github.com/go-go-golems/codeact/pkg/conversation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lenCounter struct{}

func (lenCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestMiddlewareChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, messages conversation.Conversation) (*conversation.Message, error) {
				order = append(order, name)
				return next(ctx, messages)
			}
		}
	}

	engine := EngineFunc(func(ctx context.Context, messages conversation.Conversation) (*conversation.Message, error) {
		order = append(order, "engine")
		return conversation.NewChatMessage(conversation.RoleAssistant, "ok"), nil
	})

	e := NewEngineWithMiddleware(engine, mark("a"), mark("b"), NewLoggingMiddleware(zerolog.Nop()))
	msg, err := e.RunInference(context.Background(), conversation.NewConversation())
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Text)
	assert.Equal(t, []string{"a", "b", "engine"}, order)
}

func TestHistoryBudgetMiddleware(t *testing.T) {
	var seen conversation.Conversation
	engine := EngineFunc(func(ctx context.Context, messages conversation.Conversation) (*conversation.Message, error) {
		seen = messages
		return conversation.NewChatMessage(conversation.RoleAssistant, "ok"), nil
	})

	history := conversation.NewConversation(
		conversation.NewChatMessage(conversation.RoleSystem, "sys"),
		conversation.NewChatMessage(conversation.RoleUser, "a b c d e f g h"),
		conversation.NewChatMessage(conversation.RoleUser, "last"),
	)
	e := NewEngineWithMiddleware(engine, NewHistoryBudgetMiddleware(10, lenCounter{}))
	_, err := e.RunInference(context.Background(), history)
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, "last", seen[1].Text)
	assert.Len(t, history, 3)
}

func TestStructuredOutputValidate(t *testing.T) {
	assert.NoError(t, StructuredOutputConfig{Mode: StructuredOutputModeJSONObject}.Validate())
	assert.Error(t, StructuredOutputConfig{Mode: StructuredOutputModeJSONSchema}.Validate())
	assert.Error(t, StructuredOutputConfig{Mode: "xml"}.Validate())
	assert.True(t, StructuredOutputConfig{}.StrictOrDefault())
}
