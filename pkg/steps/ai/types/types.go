package types

type ApiType string

// All api types speak the OpenAI chat completions protocol.
const (
	ApiTypeOpenAI     ApiType = "openai"
	ApiTypeOpenRouter ApiType = "openrouter"
	ApiTypeAnyScale   ApiType = "anyscale"
	ApiTypeFireworks  ApiType = "fireworks"
)

// DefaultBaseURL returns the API root for known api types.
func (a ApiType) DefaultBaseURL() string {
	switch a {
	case ApiTypeOpenRouter:
		return "https://openrouter.ai/api/v1"
	case ApiTypeAnyScale:
		return "https://api.endpoints.anyscale.com/v1"
	case ApiTypeFireworks:
		return "https://api.fireworks.ai/inference/v1"
	default:
		return "https://api.openai.com/v1"
	}
}
