package cmds

import (
	"context"
	"time"

	codeactlayers "github.com/go-go-golems/codeact/pkg/layers"
	"github.com/go-go-golems/codeact/pkg/steps/ai/openai"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	glazedsettings "github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/mb0/glob"
)

type ModelsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ModelsCommand)(nil)

type ModelsSettings struct {
	ID    string `glazed.parameter:"id"`
	Owner string `glazed.parameter:"owner"`
}

func NewModelsCommand() (*ModelsCommand, error) {
	glazedLayer, err := glazedsettings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}
	codeActLayers, err := codeactlayers.CreateCodeActLayers()
	if err != nil {
		return nil, err
	}
	return &ModelsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"models",
			cmds.WithShort("List the models of the configured provider"),
			cmds.WithFlags(
				parameters.NewParameterDefinition("id",
					parameters.ParameterTypeString,
					parameters.WithHelp("glob to match model id"),
				),
				parameters.NewParameterDefinition("owner",
					parameters.ParameterTypeString,
					parameters.WithHelp("glob to match model owner"),
				),
			),
			cmds.WithLayersList(append([]layers.ParameterLayer{glazedLayer}, codeActLayers...)...),
		),
	}, nil
}

func (c *ModelsCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &ModelsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}
	ss, err := stepSettingsFromLayers(parsedLayers)
	if err != nil {
		return err
	}

	models, err := openai.ListModels(ctx, ss)
	if err != nil {
		return err
	}
	for _, m := range models {
		if s.ID != "" {
			matching, err := glob.Match(s.ID, m.ID)
			if err != nil {
				return err
			}
			if !matching {
				continue
			}
		}
		if s.Owner != "" {
			matching, err := glob.Match(s.Owner, m.OwnedBy)
			if err != nil {
				return err
			}
			if !matching {
				continue
			}
		}

		row := types.NewRow(
			types.MRP("id", m.ID),
			types.MRP("owner", m.OwnedBy),
			types.MRP("created", time.Unix(m.Created, 0).UTC()),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
