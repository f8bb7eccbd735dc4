package settings

import (
	_ "embed"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/huandu/go-clone"
)

const CodeActSlug = "codeact"

type CodeActSettings struct {
	MaxTurns              int    `yaml:"max_turns,omitempty" glazed.parameter:"max-turns"`
	FeedbackDebounceMs    int    `yaml:"feedback_debounce_ms,omitempty" glazed.parameter:"feedback-debounce-ms"`
	FeedbackDelayMs       int    `yaml:"feedback_delay_ms,omitempty" glazed.parameter:"feedback-delay-ms"`
	MaxHistoryTokens      int    `yaml:"max_history_tokens,omitempty" glazed.parameter:"max-history-tokens"`
	LivePreview           bool   `yaml:"live_preview,omitempty" glazed.parameter:"live-preview"`
	LivePreviewDebounceMs int    `yaml:"live_preview_debounce_ms,omitempty" glazed.parameter:"live-preview-debounce-ms"`
	TranscriptDB          string `yaml:"transcript_db,omitempty" glazed.parameter:"transcript-db"`
}

func NewCodeActSettings() (*CodeActSettings, error) {
	s := &CodeActSettings{}
	p, err := NewCodeActParameterLayer()
	if err != nil {
		return nil, err
	}
	if err := p.InitializeStructFromParameterDefaults(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CodeActSettings) FeedbackDebounce() time.Duration {
	return time.Duration(s.FeedbackDebounceMs) * time.Millisecond
}

func (s *CodeActSettings) FeedbackDelay() time.Duration {
	return time.Duration(s.FeedbackDelayMs) * time.Millisecond
}

func (s *CodeActSettings) LivePreviewDebounce() time.Duration {
	return time.Duration(s.LivePreviewDebounceMs) * time.Millisecond
}

func (s *CodeActSettings) Clone() *CodeActSettings {
	return clone.Clone(s).(*CodeActSettings)
}

//go:embed "flags/codeact.yaml"
var codeActFlagsYAML []byte

type CodeActParameterLayer struct {
	*layers.ParameterLayerImpl `yaml:",inline"`
}

func NewCodeActParameterLayer(options ...layers.ParameterLayerOptions) (*CodeActParameterLayer, error) {
	ret, err := layers.NewParameterLayerFromYAML(codeActFlagsYAML, options...)
	if err != nil {
		return nil, err
	}
	return &CodeActParameterLayer{ParameterLayerImpl: ret}, nil
}
