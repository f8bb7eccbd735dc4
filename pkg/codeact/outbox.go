package codeact

import (
	"sync"

	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/rs/zerolog"
)

// outbox publishes events to the sinks in the order they were pushed, on its
// own goroutine, so that slow sinks never hold the machine lock.
type outbox struct {
	sinks  []events.EventSink
	logger zerolog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []events.Event
	closed bool
	done   chan struct{}
}

func newOutbox(sinks []events.EventSink, logger zerolog.Logger) *outbox {
	o := &outbox{
		sinks:  sinks,
		logger: logger,
		done:   make(chan struct{}),
	}
	o.cond = sync.NewCond(&o.mu)
	go o.run()
	return o
}

func (o *outbox) push(evs ...events.Event) {
	o.mu.Lock()
	if !o.closed {
		o.queue = append(o.queue, evs...)
	}
	o.mu.Unlock()
	o.cond.Signal()
}

func (o *outbox) PublishEvent(ev events.Event) error {
	o.push(ev)
	return nil
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed {
			o.cond.Wait()
		}
		batch := o.queue
		o.queue = nil
		closed := o.closed
		o.mu.Unlock()

		for _, ev := range batch {
			for _, sink := range o.sinks {
				if err := sink.PublishEvent(ev); err != nil {
					o.logger.Warn().Err(err).Str("event_type", string(ev.Type())).Msg("Failed to publish event to sink")
				}
			}
		}
		if closed && len(batch) == 0 {
			return
		}
	}
}

// close publishes what is queued and stops the goroutine.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cond.Broadcast()
	<-o.done
}

var _ events.EventSink = (*outbox)(nil)
