package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-go-golems/codeact/pkg/conversation"
	"github.com/go-go-golems/codeact/pkg/inference"
	"github.com/go-go-golems/codeact/pkg/steps/ai/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

var ErrMissingClientSettings = errors.New("no client settings")

func isReasoningModel(engine string) bool {
	m := strings.ToLower(strings.TrimSpace(engine))
	if i := strings.LastIndexByte(m, '/'); i >= 0 {
		m = m[i+1:]
	}
	return strings.HasPrefix(m, "o1") ||
		strings.HasPrefix(m, "o3") ||
		strings.HasPrefix(m, "o4") ||
		strings.HasPrefix(m, "gpt-5")
}

// headerTransport stamps provider headers on every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// MakeClient builds a client for the configured api type. OpenAI-compatible
// providers differ only in base URL and key.
func MakeClient(s *settings.StepSettings) (*go_openai.Client, error) {
	if s.Client == nil {
		return nil, ErrMissingClientSettings
	}
	if s.OpenAI == nil || s.Chat == nil {
		return nil, errors.New("no openai settings")
	}
	apiType := s.Chat.ApiTypeOrDefault()
	apiKey := s.OpenAI.APIKey(apiType)
	if apiKey == "" {
		return nil, errors.Errorf("no API key for %s: set --%s-api-key or %s_API_KEY",
			apiType, apiType, strings.ToUpper(string(apiType)))
	}

	config := go_openai.DefaultConfig(apiKey)
	config.BaseURL = s.OpenAI.BaseURL(apiType)
	if s.Client.Organization != nil {
		config.OrgID = *s.Client.Organization
	}

	httpClient := s.Client.HTTPClient
	if httpClient == nil {
		// the timeout bounds the wait for the response headers; a stream may
		// run longer once it has started
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = s.Client.EffectiveTimeout()
		httpClient = &http.Client{Transport: transport}
	}
	headers := map[string]string{"X-Title": "CodeAct"}
	if s.Client.UserAgent != nil && *s.Client.UserAgent != "" {
		headers["User-Agent"] = *s.Client.UserAgent
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *httpClient
	wrapped.Transport = &headerTransport{base: base, headers: headers}
	config.HTTPClient = &wrapped

	return go_openai.NewClientWithConfig(config), nil
}

// rawSchema passes an already reflected JSON schema through unchanged.
type rawSchema map[string]interface{}

func (r rawSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(r))
}

func responseFormat(so *inference.StructuredOutputConfig) *go_openai.ChatCompletionResponseFormat {
	if so == nil || !so.IsEnabled() {
		return nil
	}
	switch so.Mode {
	case inference.StructuredOutputModeJSONObject:
		return &go_openai.ChatCompletionResponseFormat{Type: go_openai.ChatCompletionResponseFormatTypeJSONObject}
	case inference.StructuredOutputModeJSONSchema:
		return &go_openai.ChatCompletionResponseFormat{
			Type: go_openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &go_openai.ChatCompletionResponseFormatJSONSchema{
				Name:        so.Name,
				Description: so.Description,
				Schema:      rawSchema(so.Schema),
				Strict:      so.StrictOrDefault(),
			},
		}
	}
	return nil
}

// MakeCompletionRequest builds a streaming chat completion request from the
// conversation. Messages with empty text are skipped.
func MakeCompletionRequest(
	s *settings.StepSettings,
	messages conversation.Conversation,
	so *inference.StructuredOutputConfig,
) (*go_openai.ChatCompletionRequest, error) {
	if s.Client == nil {
		return nil, ErrMissingClientSettings
	}
	if s.Chat == nil || s.Chat.Engine == nil || *s.Chat.Engine == "" {
		return nil, errors.New("no engine specified")
	}
	engine := *s.Chat.Engine

	msgs := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			log.Debug().Str("role", string(m.Role)).Msg("OpenAI request: skipping empty message")
			continue
		}
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: text,
		})
	}
	if len(msgs) == 0 {
		return nil, errors.New("no messages to send")
	}

	req := &go_openai.ChatCompletionRequest{
		Model:    engine,
		Messages: msgs,
		Stream:   true,
		StreamOptions: &go_openai.StreamOptions{
			IncludeUsage: true,
		},
		Stop:           s.Chat.Stop,
		ResponseFormat: responseFormat(so),
	}

	reasoning := isReasoningModel(engine)
	if s.Chat.MaxResponseTokens != nil && *s.Chat.MaxResponseTokens > 0 {
		if reasoning {
			req.MaxCompletionTokens = *s.Chat.MaxResponseTokens
		} else {
			req.MaxTokens = *s.Chat.MaxResponseTokens
		}
	}
	if !reasoning {
		if s.Chat.Temperature != nil {
			req.Temperature = float32(*s.Chat.Temperature)
		}
		if s.Chat.TopP != nil {
			req.TopP = float32(*s.Chat.TopP)
		}
	}

	if s.OpenAI != nil {
		if s.OpenAI.PresencePenalty != nil {
			req.PresencePenalty = float32(*s.OpenAI.PresencePenalty)
		}
		if s.OpenAI.FrequencyPenalty != nil {
			req.FrequencyPenalty = float32(*s.OpenAI.FrequencyPenalty)
		}
		if s.OpenAI.Seed != nil && *s.OpenAI.Seed != 0 {
			seed := *s.OpenAI.Seed
			req.Seed = &seed
		}
	}

	return req, nil
}

// Model is a model offered by the provider.
type Model struct {
	ID      string
	OwnedBy string
	Created int64
}

// ListModels returns the models the configured provider offers.
func ListModels(ctx context.Context, s *settings.StepSettings) ([]Model, error) {
	client, err := MakeClient(s)
	if err != nil {
		return nil, err
	}
	list, err := client.ListModels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not list models")
	}
	ret := make([]Model, 0, len(list.Models))
	for _, m := range list.Models {
		ret = append(ret, Model{ID: m.ID, OwnedBy: m.OwnedBy, Created: m.CreatedAt})
	}
	return ret, nil
}
