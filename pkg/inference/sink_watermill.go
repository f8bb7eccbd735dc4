package inference

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/rs/zerolog/log"
)

// WatermillSink publishes events as JSON messages on watermill topics.
type WatermillSink struct {
	publisher message.Publisher
	topics    []string
}

// NewWatermillSink creates a sink publishing to every given topic, typically
// the global topic and the topic of one conversation.
func NewWatermillSink(publisher message.Publisher, topics ...string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topics:    topics,
	}
}

func (w *WatermillSink) PublishEvent(event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	for _, topic := range w.topics {
		// each topic gets its own message, a message is acked once
		msg := message.NewMessage(watermill.NewUUID(), payload)
		if err := w.publisher.Publish(topic, msg); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("Failed to publish event to watermill")
			return err
		}
	}

	log.Trace().Strs("topics", w.topics).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)
