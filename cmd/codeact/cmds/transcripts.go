package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/codeact/pkg/recorder"
	"github.com/go-go-golems/codeact/pkg/steps/ai/settings"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	glazedsettings "github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/mb0/glob"
	"github.com/pkg/errors"
)

// TranscriptsCommand lists recorded conversations, or the turns of one of
// them.
type TranscriptsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*TranscriptsCommand)(nil)

type TranscriptsSettings struct {
	ID    string `glazed.parameter:"id"`
	State string `glazed.parameter:"state"`
	Title string `glazed.parameter:"title"`
	Limit int    `glazed.parameter:"limit"`
}

func NewTranscriptsCommand() (*TranscriptsCommand, error) {
	glazedLayer, err := glazedsettings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}
	codeActLayer, err := settings.NewCodeActParameterLayer()
	if err != nil {
		return nil, err
	}
	return &TranscriptsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"transcripts",
			cmds.WithShort("Inspect recorded conversations"),
			cmds.WithFlags(
				parameters.NewParameterDefinition("id",
					parameters.ParameterTypeString,
					parameters.WithHelp("Show the turns of this conversation"),
				),
				parameters.NewParameterDefinition("state",
					parameters.ParameterTypeString,
					parameters.WithHelp("Only list conversations in this state (idle, awaiting_model, awaiting_preview, terminated)"),
				),
				parameters.NewParameterDefinition("title",
					parameters.ParameterTypeString,
					parameters.WithHelp("glob to match the conversation title"),
				),
				parameters.NewParameterDefinition("limit",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Maximum number of conversations"),
					parameters.WithDefault(50),
				),
			),
			cmds.WithLayersList(glazedLayer, codeActLayer),
		),
	}, nil
}

func (c *TranscriptsCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &TranscriptsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}
	cs := &settings.CodeActSettings{}
	if err := parsedLayers.InitializeStruct(settings.CodeActSlug, cs); err != nil {
		return err
	}
	if cs.TranscriptDB == "" {
		return errors.New("no transcript database configured, set --transcript-db")
	}
	rec, err := recorder.Open(cs.TranscriptDB)
	if err != nil {
		return err
	}
	defer func() {
		_ = rec.Close()
	}()

	if s.ID != "" {
		t, err := rec.Load(ctx, s.ID)
		if err != nil {
			return err
		}
		for _, turn := range t.Turns {
			row := types.NewRow(
				types.MRP("turn", turn.TurnIndex),
				types.MRP("action", turn.Action),
				types.MRP("thought", turn.Thought),
				types.MRP("preview_success", turn.PreviewSuccess),
				types.MRP("preview_error", turn.PreviewError),
				types.MRP("corrections", turn.Corrections),
				types.MRP("final_answer", turn.FinalAnswer),
				types.MRP("started_at", time.UnixMilli(turn.StartedAtMs).UTC()),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
		return nil
	}

	q := recorder.Query{State: s.State, Limit: s.Limit}
	if s.Title != "" {
		// the limit applies after the title filter
		q.Limit = 0
	}
	list, err := rec.List(ctx, q)
	if err != nil {
		return err
	}
	list, err = filterByTitle(list, s.Title)
	if err != nil {
		return err
	}
	if s.Limit > 0 && len(list) > s.Limit {
		list = list[:s.Limit]
	}
	for _, t := range list {
		row := types.NewRow(
			types.MRP("id", t.ID),
			types.MRP("title", t.Title),
			types.MRP("state", t.State),
			types.MRP("turns", t.TurnCount),
			types.MRP("max_turns", t.MaxTurns),
			types.MRP("final_answer", t.FinalAnswer),
			types.MRP("updated_at", time.UnixMilli(t.UpdatedAtMs).UTC()),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func filterByTitle(list []recorder.Summary, pattern string) ([]recorder.Summary, error) {
	if pattern == "" {
		return list, nil
	}
	ret := list[:0:0]
	for _, t := range list {
		matching, err := glob.Match(pattern, t.Title)
		if err != nil {
			return nil, err
		}
		if matching {
			ret = append(ret, t)
		}
	}
	return ret, nil
}
