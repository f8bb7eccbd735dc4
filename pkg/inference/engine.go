package inference

import (
	"context"

	"github.com/go-go-golems/codeact/pkg/conversation"
)

// Engine runs one model call over a conversation and returns the assistant
// message. Engines publish streaming events to their configured sinks and to
// the sinks attached to ctx.
type Engine interface {
	RunInference(ctx context.Context, messages conversation.Conversation) (*conversation.Message, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, messages conversation.Conversation) (*conversation.Message, error)

func (f EngineFunc) RunInference(ctx context.Context, messages conversation.Conversation) (*conversation.Message, error) {
	return f(ctx, messages)
}
