package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/codeact/pkg/codeact"
	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/go-go-golems/codeact/pkg/inference"
	codeactlayers "github.com/go-go-golems/codeact/pkg/layers"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// RunCommand runs one conversation headless, rendering previews on the
// server, and prints the events as they happen.
type RunCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*RunCommand)(nil)

type RunSettings struct {
	Prompt  string `glazed.parameter:"prompt"`
	Raw     bool   `glazed.parameter:"raw"`
	Verbose bool   `glazed.parameter:"verbose"`
}

func NewRunCommand() (*RunCommand, error) {
	codeActLayers, err := codeactlayers.CreateCodeActLayers()
	if err != nil {
		return nil, err
	}
	return &RunCommand{
		CommandDescription: cmds.NewCommandDescription(
			"run",
			cmds.WithShort("Run a conversation until the model answers"),
			cmds.WithArguments(
				parameters.NewParameterDefinition("prompt",
					parameters.ParameterTypeString,
					parameters.WithHelp("What to build"),
					parameters.WithRequired(true),
				),
			),
			cmds.WithFlags(
				parameters.NewParameterDefinition("raw",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Print raw JSON events instead of the step printer"),
					parameters.WithDefault(false),
				),
				parameters.NewParameterDefinition("verbose",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Include event metadata in raw output"),
					parameters.WithDefault(false),
				),
			),
			cmds.WithLayersList(codeActLayers...),
		),
	}, nil
}

func (c *RunCommand) RunIntoWriter(ctx context.Context, parsedLayers *layers.ParsedLayers, w io.Writer) error {
	s := &RunSettings{}
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
	rec, err := openRecorder(ss)
	if err != nil {
		return err
	}
	if rec != nil {
		defer func() {
			_ = rec.Close()
		}()
	}

	routerOptions := []events.EventRouterOption{events.WithDumpWriter(w)}
	if s.Verbose {
		routerOptions = append(routerOptions, events.WithVerbose(true))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return errors.Wrap(err, "could not create event router")
	}
	defer func() {
		_ = router.Close()
	}()

	id := uuid.NewString()
	topic := events.ConversationTopic(id)
	if s.Raw {
		router.AddHandler("printer", topic, router.DumpRawEvents)
	} else {
		router.AddHandler("printer", topic, events.StepPrinterFunc("", w))
	}

	opts := append(machineOptions(ss, engine, newEvaluator(ss), rec),
		codeact.WithID(id),
		codeact.WithSinks(inference.NewWatermillSink(router.Publisher, topic)),
	)
	m, err := codeact.NewMachine(opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var snapshot codeact.Snapshot
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		if _, err := m.Submit(ctx, s.Prompt); err != nil {
			_ = m.Close()
			return err
		}
		var err error
		snapshot, err = m.Wait(ctx)
		// flushes the remaining events to the printer
		if cerr := m.Close(); err == nil {
			err = cerr
		}
		return err
	})
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return printFinalAnswer(w, snapshot)
}

func finalAnswer(s codeact.Snapshot) string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if env := s.Turns[i].Envelope; env != nil && env.FinalAnswer != "" {
			return env.FinalAnswer
		}
	}
	return ""
}

func printFinalAnswer(w io.Writer, s codeact.Snapshot) error {
	answer := finalAnswer(s)
	if answer == "" {
		_, err := fmt.Fprintf(w, "\nNo answer after %d turns (%s).\n", s.TurnCount, s.State)
		return err
	}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		styled, err := glamour.Render(answer, "dark")
		if err == nil {
			answer = styled
		}
	}
	_, err := fmt.Fprintf(w, "\n%s\n", strings.TrimRight(answer, "\n"))
	return err
}
