package settings

import (
	_ "embed"
	"net/http"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

type ClientSettings struct {
	Timeout        *time.Duration `yaml:"timeout,omitempty"`
	TimeoutSeconds *int           `yaml:"timeout_second,omitempty" glazed.parameter:"timeout"`
	Organization   *string        `yaml:"organization,omitempty" glazed.parameter:"organization"`
	UserAgent      *string        `yaml:"user_agent,omitempty" glazed.parameter:"user-agent"`
	HTTPClient     *http.Client   `yaml:"-" json:"-"`
}

//go:embed "flags/client.yaml"
var clientFlagsYAML []byte

type ClientParameterLayer struct {
	*layers.ParameterLayerImpl `yaml:",inline"`
}

func NewClientParameterLayer(options ...layers.ParameterLayerOptions) (*ClientParameterLayer, error) {
	ret, err := layers.NewParameterLayerFromYAML(clientFlagsYAML, options...)
	if err != nil {
		return nil, err
	}

	return &ClientParameterLayer{ParameterLayerImpl: ret}, nil
}

// UnmarshalYAML overrides YAML parsing to convert time.duration from int
func (cs *ClientSettings) UnmarshalYAML(value *yaml.Node) error {
	type Alias ClientSettings
	aux := &struct {
		Timeout *int `yaml:"timeout,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(cs),
	}
	if err := value.Decode(aux); err != nil {
		return err
	}
	if aux.Timeout != nil {
		t := time.Duration(*aux.Timeout) * time.Second
		cs.Timeout = &t
		cs.TimeoutSeconds = aux.Timeout
	}
	return nil
}

// EffectiveTimeout prefers the flag value in seconds over the YAML duration.
func (cs *ClientSettings) EffectiveTimeout() time.Duration {
	if cs.TimeoutSeconds != nil && *cs.TimeoutSeconds > 0 {
		return time.Duration(*cs.TimeoutSeconds) * time.Second
	}
	if cs.Timeout != nil {
		return *cs.Timeout
	}
	return 120 * time.Second
}

func (cs *ClientSettings) Clone() *ClientSettings {
	return clone.Clone(cs).(*ClientSettings)
}

const AiClientSlug = "ai-client"

func NewClientSettings() *ClientSettings {
	defaultTimeout := 120 * time.Second
	return &ClientSettings{
		Timeout: &defaultTimeout,
		TimeoutSeconds: func() *int {
			i := int(defaultTimeout.Seconds())
			return &i
		}(),
	}
}
