package inference

import (
	"context"
	"time"

	"github.com/go-go-golems/codeact/pkg/conversation"
	"github.com/rs/zerolog"
)

// HandlerFunc processes an inference request and returns the assistant message.
type HandlerFunc func(ctx context.Context, messages conversation.Conversation) (*conversation.Message, error)

// Middleware wraps a HandlerFunc with additional functionality.
// Middleware are applied in order: Chain(m1, m2, m3) results in m1(m2(m3(handler))).
type Middleware func(HandlerFunc) HandlerFunc

func Chain(handler HandlerFunc, middlewares ...Middleware) HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// EngineWithMiddleware wraps an Engine with a middleware chain.
type EngineWithMiddleware struct {
	handler HandlerFunc
}

func NewEngineWithMiddleware(engine Engine, middlewares ...Middleware) *EngineWithMiddleware {
	return &EngineWithMiddleware{
		handler: Chain(engine.RunInference, middlewares...),
	}
}

func (e *EngineWithMiddleware) RunInference(ctx context.Context, messages conversation.Conversation) (*conversation.Message, error) {
	// the chain may rewrite the slice, never the caller's
	messages = append(conversation.Conversation{}, messages...)
	return e.handler(ctx, messages)
}

// NewHistoryBudgetMiddleware trims the history to budget tokens before each
// call, keeping system messages and the most recent turns.
func NewHistoryBudgetMiddleware(budget int, counter conversation.TokenCounter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, messages conversation.Conversation) (*conversation.Message, error) {
			trimmed := conversation.TrimToBudget(messages, budget, counter)
			if dropped := len(messages) - len(trimmed); dropped > 0 {
				zerolog.Ctx(ctx).Debug().Int("dropped", dropped).Int("budget", budget).Msg("trimmed history")
			}
			return next(ctx, trimmed)
		}
	}
}

// NewLoggingMiddleware logs every model call with its duration.
func NewLoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, messages conversation.Conversation) (*conversation.Message, error) {
			l := logger.With().Int("message_count", len(messages)).Logger()
			l.Debug().Msg("Starting inference")
			start := time.Now()

			msg, err := next(ctx, messages)
			if err != nil {
				l.Error().Err(err).Dur("duration", time.Since(start)).Msg("Inference failed")
				return nil, err
			}
			l.Debug().Dur("duration", time.Since(start)).Int("response_length", len(msg.Text)).Msg("Inference completed")
			return msg, nil
		}
	}
}
