package cmds

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-go-golems/codeact/pkg/markdown"
	"github.com/go-go-golems/codeact/pkg/preview"
	"github.com/go-go-golems/codeact/pkg/steps/ai/settings"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	glazedsettings "github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
)

// PreviewCommand renders component files, or the jsx blocks of markdown
// files, the way a conversation would, and reports one row per snippet.
type PreviewCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*PreviewCommand)(nil)

type PreviewCommandSettings struct {
	Files []string `glazed.parameter:"files"`
}

func NewPreviewCommand() (*PreviewCommand, error) {
	glazedLayer, err := glazedsettings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}
	previewLayer, err := settings.NewPreviewParameterLayer()
	if err != nil {
		return nil, err
	}
	return &PreviewCommand{
		CommandDescription: cmds.NewCommandDescription(
			"preview",
			cmds.WithShort("Render component files in the preview sandbox"),
			cmds.WithArguments(
				parameters.NewParameterDefinition("files",
					parameters.ParameterTypeStringList,
					parameters.WithHelp("Files with component code (.jsx, .js, .tsx or markdown)"),
					parameters.WithRequired(true),
				),
			),
			cmds.WithLayersList(glazedLayer, previewLayer),
		),
	}, nil
}

type snippet struct {
	source string
	code   string
}

func readSnippets(path string) ([]snippet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		var ret []snippet
		for i, block := range markdown.FencedBlocks(string(b)) {
			switch block.Language {
			case "jsx", "js", "javascript", "tsx", "react", "":
			default:
				continue
			}
			ret = append(ret, snippet{source: path + "#" + strconv.Itoa(i+1), code: block.Code})
		}
		return ret, nil
	default:
		return []snippet{{source: path, code: string(b)}}, nil
	}
}

func (c *PreviewCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &PreviewCommandSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}
	ps := &settings.PreviewSettings{}
	if err := parsedLayers.InitializeStruct(settings.PreviewSlug, ps); err != nil {
		return err
	}
	evaluator := newEvaluator(&settings.StepSettings{Preview: ps})

	for _, f := range s.Files {
		snippets, err := readSnippets(f)
		if err != nil {
			return err
		}
		for _, sn := range snippets {
			r := evaluator.Render(ctx, sn.code)
			row := types.NewRow(
				types.MRP("source", sn.source),
				types.MRP("success", r.Success),
				types.MRP("strategy", resolutionField(r.Resolution, func(res *preview.Resolution) string { return res.Strategy })),
				types.MRP("component", resolutionField(r.Resolution, func(res *preview.Resolution) string { return res.Component })),
				types.MRP("renders", r.Renders),
				types.MRP("host_nodes", r.HostNodes),
				types.MRP("duration_ms", r.DurationMs),
				types.MRP("error", r.Error),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func resolutionField(r *preview.Resolution, f func(*preview.Resolution) string) string {
	if r == nil {
		return ""
	}
	return f(r)
}
