package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// handleEvents streams the events of one conversation as server-sent events.
// The first event is a snapshot of the conversation, every later event is
// named after its type.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.subscriber == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event streaming is disabled"))
		return
	}
	m, err := s.store.Get(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ctx := r.Context()
	logger := zerolog.Ctx(ctx).With().Str("conversation_id", m.ID()).Logger()
	// subscribe before the snapshot so nothing is lost in between
	messages, err := s.subscriber.Subscribe(ctx, events.ConversationTopic(m.ID()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.Wrap(err, "could not subscribe"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snapshot, err := json.Marshal(m.Snapshot())
	if err != nil {
		logger.Error().Err(err).Msg("could not marshal snapshot")
		return
	}
	if err := writeSSE(w, "snapshot", snapshot); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.sseKeepAlive)
	defer keepAlive.Stop()

	logger.Debug().Msg("event stream opened")
	defer logger.Debug().Msg("event stream closed")
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-messages:
			if !ok {
				return
			}
			err := writeSSE(w, eventName(msg.Payload), msg.Payload)
			msg.Ack()
			if err != nil {
				logger.Debug().Err(err).Msg("client went away")
				return
			}
			flusher.Flush()
		}
	}
}

func eventName(payload []byte) string {
	var head struct {
		Type events.EventType `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Type == "" {
		return "message"
	}
	return string(head.Type)
}

// writeSSE writes one event. Payloads are single-line JSON.
func writeSSE(w http.ResponseWriter, name string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
