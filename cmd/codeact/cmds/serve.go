package cmds

import (
	"context"

	"github.com/go-go-golems/codeact/pkg/codeact"
	"github.com/go-go-golems/codeact/pkg/events"
	codeactlayers "github.com/go-go-golems/codeact/pkg/layers"
	"github.com/go-go-golems/codeact/pkg/preview"
	"github.com/go-go-golems/codeact/pkg/server"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type ServeCommand struct {
	*cmds.CommandDescription
	version string
}

var _ cmds.BareCommand = (*ServeCommand)(nil)

type ServeSettings struct {
	Address       string `glazed.parameter:"address"`
	ServerPreview bool   `glazed.parameter:"server-preview"`
	Environment   string `glazed.parameter:"environment"`
	LogEvents     bool   `glazed.parameter:"log-events"`
}

func NewServeCommand(version string) (*ServeCommand, error) {
	codeActLayers, err := codeactlayers.CreateCodeActLayers()
	if err != nil {
		return nil, err
	}
	return &ServeCommand{
		CommandDescription: cmds.NewCommandDescription(
			"serve",
			cmds.WithShort("Serve conversations over HTTP with a server-sent event stream"),
			cmds.WithFlags(
				parameters.NewParameterDefinition("address",
					parameters.ParameterTypeString,
					parameters.WithHelp("Address to listen on"),
					parameters.WithDefault(":8080"),
				),
				parameters.NewParameterDefinition("server-preview",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Render previews on the server instead of waiting for the client"),
					parameters.WithDefault(false),
				),
				parameters.NewParameterDefinition("environment",
					parameters.ParameterTypeString,
					parameters.WithHelp("Environment reported by the health endpoint"),
					parameters.WithDefault("development"),
				),
				parameters.NewParameterDefinition("log-events",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Dump every event to stdout"),
					parameters.WithDefault(false),
				),
			),
			cmds.WithLayersList(codeActLayers...),
		),
		version: version,
	}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	s := &ServeSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}
	ss, err := stepSettingsFromLayers(parsedLayers)
	if err != nil {
		return err
	}
	engine, err := newEngine(ss)
	if err != nil {
		return err
	}

	router, err := events.NewEventRouter()
	if err != nil {
		return errors.Wrap(err, "could not create event router")
	}
	defer func() {
		_ = router.Close()
	}()
	if s.LogEvents {
		router.AddHandler("dump", events.TopicAll, router.DumpRawEvents)
	}

	rec, err := openRecorder(ss)
	if err != nil {
		return err
	}
	if rec != nil {
		defer func() {
			_ = rec.Close()
		}()
	}

	evaluator := newEvaluator(ss)
	store := codeact.NewStore(func(opts ...codeact.Option) (*codeact.Machine, error) {
		var previewer preview.Previewer
		if s.ServerPreview {
			previewer = evaluator
		}
		base := machineOptions(ss, engine, previewer, rec)
		return codeact.NewMachine(append(base, opts...)...)
	})
	defer func() {
		_ = store.Close()
	}()

	serverOpts := []server.Option{
		server.WithPubSub(router.Publisher, router.Subscriber),
		server.WithRenderer(evaluator),
		server.WithVersion(c.version, s.Environment),
		server.WithLivePreview(s.ServerPreview && ss.CodeAct.LivePreview),
		server.WithLogger(log.Logger),
	}
	if rec != nil {
		serverOpts = append(serverOpts, server.WithRecorder(rec))
	}
	srv := server.New(store, serverOpts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		return srv.ListenAndServe(ctx, s.Address)
	})
	return eg.Wait()
}
