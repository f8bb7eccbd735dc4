package events

// Usage is the token usage reported by the provider for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens" yaml:"input_tokens" mapstructure:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens" mapstructure:"output_tokens"`
	CachedTokens int `json:"cached_tokens,omitempty" yaml:"cached_tokens,omitempty" mapstructure:"cached_tokens,omitempty"`
}

// LLMInferenceData is the model call information attached to engine events.
type LLMInferenceData struct {
	Model       string   `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" mapstructure:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" mapstructure:"max_tokens,omitempty"`
	StopReason  *string  `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty" mapstructure:"stop_reason,omitempty"`
	Usage       *Usage   `json:"usage,omitempty" yaml:"usage,omitempty" mapstructure:"usage,omitempty"`
	DurationMs  *int64   `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty" mapstructure:"duration_ms,omitempty"`
}
