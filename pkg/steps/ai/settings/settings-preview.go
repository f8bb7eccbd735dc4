package settings

import (
	_ "embed"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/huandu/go-clone"
)

const PreviewSlug = "preview"

type PreviewSettings struct {
	SettleMs    int `yaml:"settle_ms,omitempty" glazed.parameter:"preview-settle-ms"`
	TimeoutMs   int `yaml:"timeout_ms,omitempty" glazed.parameter:"preview-timeout-ms"`
	Concurrency int `yaml:"concurrency,omitempty" glazed.parameter:"preview-concurrency"`
}

func NewPreviewSettings() (*PreviewSettings, error) {
	s := &PreviewSettings{}
	p, err := NewPreviewParameterLayer()
	if err != nil {
		return nil, err
	}
	if err := p.InitializeStructFromParameterDefaults(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PreviewSettings) Settle() time.Duration {
	return time.Duration(s.SettleMs) * time.Millisecond
}

func (s *PreviewSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

func (s *PreviewSettings) Clone() *PreviewSettings {
	return clone.Clone(s).(*PreviewSettings)
}

//go:embed "flags/preview.yaml"
var previewFlagsYAML []byte

type PreviewParameterLayer struct {
	*layers.ParameterLayerImpl `yaml:",inline"`
}

func NewPreviewParameterLayer(options ...layers.ParameterLayerOptions) (*PreviewParameterLayer, error) {
	ret, err := layers.NewParameterLayerFromYAML(previewFlagsYAML, options...)
	if err != nil {
		return nil, err
	}
	return &PreviewParameterLayer{ParameterLayerImpl: ret}, nil
}
