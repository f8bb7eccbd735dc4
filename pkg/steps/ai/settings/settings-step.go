package settings

import (
	"io"

	"github.com/go-go-golems/codeact/pkg/helpers"
	"github.com/go-go-golems/codeact/pkg/steps/ai/settings/openai"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"gopkg.in/yaml.v3"
)

type factoryConfigFileWrapper struct {
	Factories *StepSettings
}

type StepSettings struct {
	Chat    *ChatSettings    `yaml:"chat,omitempty" glazed.layer:"ai-chat"`
	OpenAI  *openai.Settings `yaml:"openai,omitempty" glazed.layer:"openai-chat"`
	Client  *ClientSettings  `yaml:"client,omitempty" glazed.layer:"ai-client"`
	CodeAct *CodeActSettings `yaml:"codeact,omitempty" glazed.layer:"codeact"`
	Preview *PreviewSettings `yaml:"preview,omitempty" glazed.layer:"preview"`
}

func NewStepSettings() (*StepSettings, error) {
	chat, err := NewChatSettings()
	if err != nil {
		return nil, err
	}
	openaiSettings, err := openai.NewSettings()
	if err != nil {
		return nil, err
	}
	codeact, err := NewCodeActSettings()
	if err != nil {
		return nil, err
	}
	preview, err := NewPreviewSettings()
	if err != nil {
		return nil, err
	}
	return &StepSettings{
		Chat:    chat,
		OpenAI:  openaiSettings,
		Client:  NewClientSettings(),
		CodeAct: codeact,
		Preview: preview,
	}, nil
}

func NewStepSettingsFromYAML(s io.Reader) (*StepSettings, error) {
	defaults, err := NewStepSettings()
	if err != nil {
		return nil, err
	}
	settings_ := factoryConfigFileWrapper{
		Factories: defaults,
	}
	if err := yaml.NewDecoder(s).Decode(&settings_); err != nil {
		return nil, err
	}

	return settings_.Factories, nil
}

func (ss *StepSettings) GetMetadata() map[string]interface{} {
	metadata := make(map[string]interface{})

	if ss.Chat != nil {
		if ss.Chat.Engine != nil {
			metadata["ai-engine"] = *ss.Chat.Engine
		}
		metadata["ai-api-type"] = string(ss.Chat.ApiTypeOrDefault())
		if ss.Chat.MaxResponseTokens != nil {
			metadata["ai-max-response-tokens"] = *ss.Chat.MaxResponseTokens
		}
		if ss.Chat.TopP != nil && *ss.Chat.TopP != 1 {
			metadata["ai-top-p"] = *ss.Chat.TopP
		}
		if ss.Chat.Temperature != nil {
			metadata["ai-temperature"] = *ss.Chat.Temperature
		}
		if len(ss.Chat.Stop) > 0 {
			metadata["ai-stop"] = ss.Chat.Stop
		}
		metadata["ai-response-format"] = string(ss.Chat.StructuredOutputMode())
	}

	if ss.OpenAI != nil && ss.Chat != nil {
		metadata["base-url"] = ss.OpenAI.BaseURL(ss.Chat.ApiTypeOrDefault())
	}

	if ss.Client != nil {
		metadata["timeout"] = ss.Client.EffectiveTimeout().String()
		if ua := helpers.Deref(ss.Client.UserAgent, ""); ua != "" {
			metadata["user-agent"] = ua
		}
	}

	if ss.CodeAct != nil {
		metadata["max-turns"] = ss.CodeAct.MaxTurns
		metadata["live-preview"] = ss.CodeAct.LivePreview
	}

	return metadata
}

// UpdateFromParsedLayers updates the settings from the parsed layers of a glazed command.
func (s *StepSettings) UpdateFromParsedLayers(parsedLayers *layers.ParsedLayers) error {
	err := parsedLayers.InitializeStruct(AiClientSlug, s.Client)
	if err != nil {
		return err
	}

	err = parsedLayers.InitializeStruct(AiChatSlug, s.Chat)
	if err != nil {
		return err
	}

	err = parsedLayers.InitializeStruct(openai.OpenAiChatSlug, s.OpenAI)
	if err != nil {
		return err
	}

	err = parsedLayers.InitializeStruct(CodeActSlug, s.CodeAct)
	if err != nil {
		return err
	}

	return parsedLayers.InitializeStruct(PreviewSlug, s.Preview)
}

func (s *StepSettings) Clone() *StepSettings {
	return &StepSettings{
		Chat:    s.Chat.Clone(),
		OpenAI:  s.OpenAI.Clone(),
		Client:  s.Client.Clone(),
		CodeAct: s.CodeAct.Clone(),
		Preview: s.Preview.Clone(),
	}
}
