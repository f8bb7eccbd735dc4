package openai

import (
	"context"
	"io"
	"time"

	"github.com/go-go-golems/codeact/pkg/conversation"
	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/go-go-golems/codeact/pkg/inference"
	"github.com/go-go-golems/codeact/pkg/steps/ai/settings"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// OpenAIEngine streams chat completions from an OpenAI-compatible provider.
type OpenAIEngine struct {
	settings *settings.StepSettings
	config   *inference.Config
}

// NewOpenAIEngine creates a new OpenAI inference engine with the given settings and options.
func NewOpenAIEngine(settings *settings.StepSettings, options ...inference.Option) (*OpenAIEngine, error) {
	config := inference.NewConfig()
	if err := inference.ApplyOptions(config, options...); err != nil {
		return nil, err
	}

	return &OpenAIEngine{
		settings: settings,
		config:   config,
	}, nil
}

// RunInference sends the conversation and returns the streamed assistant
// message. Start, partial, final, interrupt, and error events are published
// along the way.
func (e *OpenAIEngine) RunInference(
	ctx context.Context,
	messages conversation.Conversation,
) (*conversation.Message, error) {
	log.Debug().Int("num_messages", len(messages)).Bool("stream", true).Msg("OpenAI RunInference started")

	client, err := MakeClient(e.settings)
	if err != nil {
		return nil, err
	}

	req, err := MakeCompletionRequest(e.settings, messages, e.config.StructuredOutput)
	if err != nil {
		return nil, err
	}

	correlation := events.CorrelationFromContext(ctx)
	metadata := events.NewMetadata(correlation)
	metadata.InferenceID = uuid.NewString()
	metadata.Model = req.Model
	metadata.Temperature = e.settings.Chat.Temperature
	metadata.MaxTokens = e.settings.Chat.MaxResponseTokens
	metadata.Extra = map[string]interface{}{
		"settings": e.settings.GetMetadata(),
	}

	start := time.Now()
	e.publishEvent(ctx, events.NewStartEvent(metadata))

	stream, err := client.CreateChatCompletionStream(ctx, *req)
	if err != nil {
		log.Error().Err(err).Msg("OpenAI streaming request failed")
		e.publishEvent(ctx, events.NewErrorEvent(metadata, err))
		return nil, errors.Wrap(err, "model request failed")
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close stream")
		}
	}()

	message := ""
	var usage *events.Usage
	var stopReason *string

	chunkCount := 0
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("OpenAI streaming cancelled by context")
			e.publishEvent(ctx, events.NewInterruptEvent(metadata, message))
			return nil, ctx.Err()

		default:
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				log.Debug().Int("chunks_received", chunkCount).Msg("OpenAI stream completed")
				goto streamingComplete
			}
			if err != nil {
				log.Error().Err(err).Int("chunks_received", chunkCount).Msg("OpenAI stream receive failed")
				e.publishEvent(ctx, events.NewErrorEvent(metadata, err))
				return nil, errors.Wrap(err, "model stream failed")
			}
			chunkCount++

			if response.Usage != nil {
				usage = &events.Usage{
					InputTokens:  response.Usage.PromptTokens,
					OutputTokens: response.Usage.CompletionTokens,
				}
				if response.Usage.PromptTokensDetails != nil {
					usage.CachedTokens = response.Usage.PromptTokensDetails.CachedTokens
				}
			}

			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]
			if choice.FinishReason != "" {
				reason := string(choice.FinishReason)
				stopReason = &reason
			}
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			message += delta
			log.Trace().Int("chunk", chunkCount).Str("delta", delta).Int("total_length", len(message)).Msg("OpenAI received chunk")
			e.publishEvent(ctx, events.NewPartialCompletionEvent(metadata, delta, message))
		}
	}

streamingComplete:
	metadata.Usage = usage
	metadata.StopReason = stopReason
	duration := time.Since(start).Milliseconds()
	metadata.DurationMs = &duration

	e.publishEvent(ctx, events.NewFinalEvent(metadata, message))
	log.Debug().Int("final_length", len(message)).Msg("OpenAI RunInference completed")

	ret := conversation.NewChatMessage(
		conversation.RoleAssistant, message,
		conversation.WithKind(conversation.KindEnvelope),
		conversation.WithTurnID(correlation.TurnID),
		conversation.WithMetadata(map[string]interface{}{
			"model":       req.Model,
			"duration_ms": duration,
		}),
	)
	if usage != nil {
		ret.Metadata["input_tokens"] = usage.InputTokens
		ret.Metadata["output_tokens"] = usage.OutputTokens
	}
	if stopReason != nil {
		ret.Metadata["stop_reason"] = *stopReason
	}
	return ret, nil
}

// publishEvent publishes an event to all configured sinks and any sinks carried in context.
func (e *OpenAIEngine) publishEvent(ctx context.Context, event events.Event) {
	for _, sink := range e.config.EventSinks {
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("Failed to publish event to sink")
		}
	}
	events.PublishEventToContext(ctx, event)
}

var _ inference.Engine = (*OpenAIEngine)(nil)
