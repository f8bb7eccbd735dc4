package cmds

import (
	"github.com/go-go-golems/codeact/pkg/codeact"
	"github.com/go-go-golems/codeact/pkg/inference"
	codeactlayers "github.com/go-go-golems/codeact/pkg/layers"
	"github.com/go-go-golems/codeact/pkg/preview"
	"github.com/go-go-golems/codeact/pkg/recorder"
	"github.com/go-go-golems/codeact/pkg/steps/ai/openai"
	"github.com/go-go-golems/codeact/pkg/steps/ai/settings"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Build wraps a glazed command into a cobra command that resolves the
// codeact layers from flags, environment, and config.
func Build(c cmds.Command) (*cobra.Command, error) {
	return cli.BuildCobraCommand(c,
		cli.WithCobraMiddlewaresFunc(codeactlayers.GetCobraCommandCodeActMiddlewares),
	)
}

func stepSettingsFromLayers(parsedLayers *layers.ParsedLayers) (*settings.StepSettings, error) {
	ss, err := settings.NewStepSettings()
	if err != nil {
		return nil, err
	}
	if err := ss.UpdateFromParsedLayers(parsedLayers); err != nil {
		return nil, errors.Wrap(err, "could not read settings")
	}
	return ss, nil
}

func newEngine(ss *settings.StepSettings) (inference.Engine, error) {
	e, err := openai.NewOpenAIEngine(ss,
		inference.WithStructuredOutput(codeact.StructuredOutput(ss.Chat.StructuredOutputMode())),
	)
	if err != nil {
		return nil, errors.Wrap(err, "could not create engine")
	}
	return e, nil
}

func newEvaluator(ss *settings.StepSettings) *preview.Evaluator {
	return preview.NewEvaluator(
		preview.WithSettleDelay(ss.Preview.Settle()),
		preview.WithTimeout(ss.Preview.Timeout()),
		preview.WithConcurrency(ss.Preview.Concurrency),
		preview.WithLogger(log.Logger),
	)
}

// openRecorder returns nil when no transcript database is configured.
func openRecorder(ss *settings.StepSettings) (*recorder.Recorder, error) {
	if ss.CodeAct.TranscriptDB == "" {
		return nil, nil
	}
	return recorder.Open(ss.CodeAct.TranscriptDB)
}

// machineOptions turns the loop settings into machine options. previewer and
// rec may be nil.
func machineOptions(ss *settings.StepSettings, engine inference.Engine, previewer preview.Previewer, rec *recorder.Recorder) []codeact.Option {
	opts := []codeact.Option{
		codeact.WithEngine(engine),
		codeact.WithMaxTurns(ss.CodeAct.MaxTurns),
		codeact.WithFeedbackDebounce(ss.CodeAct.FeedbackDebounce()),
		codeact.WithFeedbackDelay(ss.CodeAct.FeedbackDelay()),
		codeact.WithPromptSchema(ss.Chat.StructuredOutputMode() != inference.StructuredOutputModeJSONSchema),
		codeact.WithLogger(log.Logger),
	}
	if ss.CodeAct.MaxHistoryTokens > 0 {
		opts = append(opts, codeact.WithHistoryTokenBudget(ss.CodeAct.MaxHistoryTokens, nil))
	}
	if previewer != nil {
		opts = append(opts, codeact.WithPreviewer(previewer))
		if ss.CodeAct.LivePreview {
			opts = append(opts, codeact.WithLivePreview(ss.CodeAct.LivePreviewDebounce()))
		}
	}
	if rec != nil {
		opts = append(opts, codeact.WithRecorder(rec))
	}
	return opts
}
