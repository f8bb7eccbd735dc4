package layers

import (
	"github.com/go-go-golems/codeact/pkg/steps/ai/settings"
	"github.com/go-go-golems/codeact/pkg/steps/ai/settings/openai"
	"github.com/go-go-golems/glazed/pkg/cli"
	cmdlayers "github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/middlewares"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/spf13/cobra"
)

// EnvPrefix is the prefix of environment variables that set layer parameters.
const EnvPrefix = "CODEACT"

// CreateOption configures behavior of CreateCodeActLayers.
type CreateOption func(*createOptions)
type createOptions struct {
	stepSettings *settings.StepSettings
}

// WithDefaultsFromStepSettings uses the given StepSettings for layer defaults.
func WithDefaultsFromStepSettings(s *settings.StepSettings) CreateOption {
	return func(o *createOptions) {
		o.stepSettings = s
	}
}

// CreateCodeActLayers returns the parameter layers of the model, client,
// provider, loop, and preview settings.
func CreateCodeActLayers(opts ...CreateOption) ([]cmdlayers.ParameterLayer, error) {
	var co createOptions
	for _, opt := range opts {
		opt(&co)
	}
	ss := co.stepSettings
	if ss == nil {
		var err error
		ss, err = settings.NewStepSettings()
		if err != nil {
			return nil, err
		}
	}

	chatParameterLayer, err := settings.NewChatParameterLayer(cmdlayers.WithDefaults(ss.Chat))
	if err != nil {
		return nil, err
	}

	clientParameterLayer, err := settings.NewClientParameterLayer(cmdlayers.WithDefaults(ss.Client))
	if err != nil {
		return nil, err
	}

	openaiParameterLayer, err := openai.NewParameterLayer(cmdlayers.WithDefaults(ss.OpenAI))
	if err != nil {
		return nil, err
	}

	codeActParameterLayer, err := settings.NewCodeActParameterLayer(cmdlayers.WithDefaults(ss.CodeAct))
	if err != nil {
		return nil, err
	}

	previewParameterLayer, err := settings.NewPreviewParameterLayer(cmdlayers.WithDefaults(ss.Preview))
	if err != nil {
		return nil, err
	}

	return []cmdlayers.ParameterLayer{
		chatParameterLayer,
		clientParameterLayer,
		openaiParameterLayer,
		codeActParameterLayer,
		previewParameterLayer,
	}, nil
}

// Slugs lists the layers that environment variables and config files may set.
func Slugs() []string {
	return []string{
		settings.AiChatSlug,
		settings.AiClientSlug,
		openai.OpenAiChatSlug,
		settings.CodeActSlug,
		settings.PreviewSlug,
	}
}

// GetCobraCommandCodeActMiddlewares resolves parameters from, in decreasing
// precedence: flags, arguments, CODEACT_* environment variables, a
// parameters file, the viper config file, and defaults.
func GetCobraCommandCodeActMiddlewares(
	parsedCommandLayers *cmdlayers.ParsedLayers,
	cmd *cobra.Command,
	args []string,
) ([]middlewares.Middleware, error) {
	commandSettings := &cli.CommandSettings{}
	if parsedCommandLayers != nil {
		if err := parsedCommandLayers.InitializeStruct(cli.CommandSettingsSlug, commandSettings); err != nil {
			return nil, err
		}
	}

	middlewares_ := []middlewares.Middleware{
		middlewares.ParseFromCobraCommand(cmd,
			parameters.WithParseStepSource("cobra"),
		),
		middlewares.GatherArguments(args,
			parameters.WithParseStepSource("arguments"),
		),
		middlewares.WrapWithWhitelistedLayers(
			Slugs(),
			middlewares.UpdateFromEnv(EnvPrefix,
				parameters.WithParseStepSource("env"),
			),
		),
	}

	if commandSettings.LoadParametersFromFile != "" {
		middlewares_ = append(middlewares_,
			middlewares.LoadParametersFromFile(commandSettings.LoadParametersFromFile,
				parameters.WithParseStepSource("file"),
			),
		)
	}

	middlewares_ = append(middlewares_,
		middlewares.WrapWithWhitelistedLayers(
			Slugs(),
			middlewares.GatherFlagsFromViper(parameters.WithParseStepSource("viper")),
		),
		middlewares.SetFromDefaults(parameters.WithParseStepSource("defaults")),
	)

	return middlewares_, nil
}
