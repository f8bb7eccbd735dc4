package openai

import (
	_ "embed"
	"os"
	"strings"

	"github.com/go-go-golems/codeact/pkg/steps/ai/types"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/middlewares"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/huandu/go-clone"
)

type Settings struct {
	// APIKeys maps "<api-type>-api-key" to the key
	APIKeys map[string]string `yaml:"api_keys,omitempty" glazed.parameter:"*-api-key"`
	// BaseURLs maps "<api-type>-base-url" to the API root
	BaseURLs         map[string]string `yaml:"base_urls,omitempty" glazed.parameter:"*-base-url"`
	PresencePenalty  *float64          `yaml:"presence_penalty,omitempty" glazed.parameter:"openai-presence-penalty"`
	FrequencyPenalty *float64          `yaml:"frequency_penalty,omitempty" glazed.parameter:"openai-frequency-penalty"`
	Seed             *int              `yaml:"seed,omitempty" glazed.parameter:"openai-seed"`
}

func NewSettings() (*Settings, error) {
	s := &Settings{
		APIKeys:  map[string]string{},
		BaseURLs: map[string]string{},
	}

	p, err := NewParameterLayer()
	if err != nil {
		return nil, err
	}

	// InitializeStructFromParameterDefaults hands wildcard maps the raw
	// *interface{} defaults, so go through parsed layers instead.
	parsedLayers := layers.NewParsedLayers()
	err = middlewares.ExecuteMiddlewares(
		layers.NewParameterLayers(layers.WithLayers(p)),
		parsedLayers,
		middlewares.SetFromDefaults(parameters.WithParseStepSource("defaults")),
	)
	if err != nil {
		return nil, err
	}

	err = parsedLayers.InitializeStruct(OpenAiChatSlug, s)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// APIKey returns the key for apiType, falling back to the
// <API_TYPE>_API_KEY environment variable.
func (s *Settings) APIKey(apiType types.ApiType) string {
	if s != nil {
		if k := s.APIKeys[string(apiType)+"-api-key"]; k != "" {
			return k
		}
	}
	return os.Getenv(strings.ToUpper(string(apiType)) + "_API_KEY")
}

// BaseURL returns the configured API root for apiType, or its default.
func (s *Settings) BaseURL(apiType types.ApiType) string {
	if s != nil {
		if u := s.BaseURLs[string(apiType)+"-base-url"]; u != "" {
			return strings.TrimRight(u, "/")
		}
	}
	return apiType.DefaultBaseURL()
}

//go:embed "chat.yaml"
var settingsYAML []byte

type ParameterLayer struct {
	*layers.ParameterLayerImpl `yaml:",inline"`
}

const OpenAiChatSlug = "openai-chat"

func NewParameterLayer(options ...layers.ParameterLayerOptions) (*ParameterLayer, error) {
	ret, err := layers.NewParameterLayerFromYAML(settingsYAML, options...)
	if err != nil {
		return nil, err
	}

	return &ParameterLayer{
		ParameterLayerImpl: ret,
	}, nil
}
