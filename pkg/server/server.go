// Package server exposes conversations over HTTP: JSON endpoints to drive
// them and a server-sent event stream per conversation.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-go-golems/codeact/pkg/codeact"
	"github.com/go-go-golems/codeact/pkg/preview"
	"github.com/go-go-golems/codeact/pkg/recorder"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Renderer renders a snippet synchronously. *preview.Evaluator is one.
type Renderer interface {
	Render(ctx context.Context, code string) preview.Result
}

type Server struct {
	store      *codeact.Store
	publisher  message.Publisher
	subscriber message.Subscriber
	renderer   Renderer
	recorder   *recorder.Recorder
	logger     zerolog.Logger

	version      string
	environment  string
	livePreview  bool
	startedAt    time.Time
	sseKeepAlive time.Duration

	router chi.Router
}

type Option func(*Server)

// WithPubSub attaches event sinks to new conversations and serves their
// events. The event stream relays messages in delivery order, so the pubsub
// must deliver in publish order, as the blocking gochannel of
// events.NewEventRouter does.
func WithPubSub(publisher message.Publisher, subscriber message.Subscriber) Option {
	return func(s *Server) {
		s.publisher = publisher
		s.subscriber = subscriber
	}
}

func WithRenderer(r Renderer) Option {
	return func(s *Server) { s.renderer = r }
}

func WithRecorder(r *recorder.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

func WithVersion(version, environment string) Option {
	return func(s *Server) {
		s.version = version
		s.environment = environment
	}
}

// WithLivePreview is reported as a feature in the health endpoint.
func WithLivePreview(enabled bool) Option {
	return func(s *Server) { s.livePreview = enabled }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithKeepAlive sets the interval of SSE comment pings.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) { s.sseKeepAlive = d }
}

func New(store *codeact.Store, opts ...Option) *Server {
	s := &Server{
		store:        store,
		logger:       log.Logger,
		version:      "dev",
		environment:  "development",
		startedAt:    time.Now(),
		sseKeepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleConversationList)
			r.Post("/", s.handleConversationCreate)
			r.Route("/{conversationID}", func(r chi.Router) {
				r.Get("/", s.handleConversationGet)
				r.Delete("/", s.handleConversationDelete)
				r.Post("/messages", s.handleMessage)
				r.Post("/preview", s.handlePreviewResult)
				r.Get("/events", s.handleEvents)
			})
		})

		r.Post("/execute", s.handleExecute)
		r.Get("/components", s.handleComponents)

		r.Get("/transcripts", s.handleTranscriptList)
		r.Get("/transcripts/{conversationID}", s.handleTranscriptGet)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		l := s.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		next.ServeHTTP(ww, r.WithContext(l.WithContext(r.Context())))
		l.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting web server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down web server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "could not shut down web server")
		}
		return nil
	}
}
