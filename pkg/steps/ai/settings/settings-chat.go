package settings

import (
	_ "embed"

	"github.com/go-go-golems/codeact/pkg/inference"
	"github.com/go-go-golems/codeact/pkg/steps/ai/types"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/huandu/go-clone"
)

type ChatSettings struct {
	Engine            *string        `yaml:"engine,omitempty" glazed.parameter:"ai-engine"`
	ApiType           *types.ApiType `yaml:"api_type,omitempty" glazed.parameter:"ai-api-type"`
	MaxResponseTokens *int           `yaml:"max_response_tokens,omitempty" glazed.parameter:"ai-max-response-tokens"`
	TopP              *float64       `yaml:"top_p,omitempty" glazed.parameter:"ai-top-p"`
	Temperature       *float64       `yaml:"temperature,omitempty" glazed.parameter:"ai-temperature"`
	Stop              []string       `yaml:"stop,omitempty" glazed.parameter:"ai-stop"`
	ResponseFormat    string         `yaml:"response_format,omitempty" glazed.parameter:"ai-response-format"`
}

func NewChatSettings() (*ChatSettings, error) {
	s := &ChatSettings{
		Stop: []string{},
	}

	p, err := NewChatParameterLayer()
	if err != nil {
		return nil, err
	}
	err = p.InitializeStructFromParameterDefaults(s)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *ChatSettings) Clone() *ChatSettings {
	return clone.Clone(s).(*ChatSettings)
}

// StructuredOutputMode maps the response format flag onto an inference mode.
// Unknown values disable structured output.
func (s *ChatSettings) StructuredOutputMode() inference.StructuredOutputMode {
	switch inference.StructuredOutputMode(s.ResponseFormat) {
	case inference.StructuredOutputModeJSONObject:
		return inference.StructuredOutputModeJSONObject
	case inference.StructuredOutputModeJSONSchema:
		return inference.StructuredOutputModeJSONSchema
	default:
		return inference.StructuredOutputModeOff
	}
}

// ApiTypeOrDefault returns the configured api type, OpenRouter if unset.
func (s *ChatSettings) ApiTypeOrDefault() types.ApiType {
	if s.ApiType == nil || *s.ApiType == "" {
		return types.ApiTypeOpenRouter
	}
	return *s.ApiType
}

//go:embed "flags/chat.yaml"
var settingsYAML []byte

type ChatParameterLayer struct {
	*layers.ParameterLayerImpl `yaml:",inline"`
}

const AiChatSlug = "ai-chat"

func NewChatParameterLayer(options ...layers.ParameterLayerOptions) (*ChatParameterLayer, error) {
	ret, err := layers.NewParameterLayerFromYAML(settingsYAML, options...)
	if err != nil {
		return nil, err
	}

	return &ChatParameterLayer{
		ParameterLayerImpl: ret,
	}, nil
}
