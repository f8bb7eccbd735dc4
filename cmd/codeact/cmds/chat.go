package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/codeact/pkg/codeact"
	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/go-go-golems/codeact/pkg/inference"
	codeactlayers "github.com/go-go-golems/codeact/pkg/layers"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
)

// ChatCommand keeps one conversation open in the terminal. Every message
// starts a new episode once the previous one has ended.
type ChatCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*ChatCommand)(nil)

func NewChatCommand() (*ChatCommand, error) {
	codeActLayers, err := codeactlayers.CreateCodeActLayers()
	if err != nil {
		return nil, err
	}
	return &ChatCommand{
		CommandDescription: cmds.NewCommandDescription(
			"chat",
			cmds.WithShort("Chat with the model in the terminal, previews run locally"),
			cmds.WithLayersList(codeActLayers...),
		),
	}, nil
}

func (c *ChatCommand) RunIntoWriter(ctx context.Context, parsedLayers *layers.ParsedLayers, w io.Writer) error {
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

	router, err := events.NewEventRouter()
	if err != nil {
		return errors.Wrap(err, "could not create event router")
	}
	defer func() {
		_ = router.Close()
	}()

	id := uuid.NewString()
	topic := events.ConversationTopic(id)
	router.AddHandler("printer", topic, events.StepPrinterFunc("assistant", w))

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

	ui := &input.UI{
		Writer: os.Stdout,
		Reader: os.Stdin,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		defer func() {
			_ = m.Close()
		}()
		<-router.Running()
		for {
			text, err := ui.Ask("\nWhat should I build? (empty to quit)", &input.Options{
				HideOrder: true,
			})
			if err != nil {
				if errors.Is(err, input.ErrInterrupted) {
					return nil
				}
				return err
			}
			text = strings.TrimSpace(text)
			if text == "" || text == "exit" || text == "quit" {
				return nil
			}

			if _, err := m.Submit(ctx, text); err != nil {
				log.Warn().Err(err).Msg("could not submit message")
				continue
			}
			snapshot, err := m.Wait(ctx)
			if err != nil {
				return err
			}
			if err := printFinalAnswer(w, snapshot); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "[%d/%d turns]\n", snapshot.TurnCount, snapshot.MaxTurns); err != nil {
				return err
			}
		}
	})
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
