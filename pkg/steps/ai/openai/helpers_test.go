package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/codeact/pkg/conversation"
	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/go-go-golems/codeact/pkg/inference"
	aisettings "github.com/go-go-golems/codeact/pkg/steps/ai/settings"
	aisettingsopenai "github.com/go-go-golems/codeact/pkg/steps/ai/settings/openai"
	"github.com/go-go-golems/codeact/pkg/steps/ai/types"
)

func boolPtr(v bool) *bool { return &v }

func testSettings(engine string) *aisettings.StepSettings {
	apiType := types.ApiTypeOpenRouter
	temp := 0.2
	maxTokens := 512
	return &aisettings.StepSettings{
		Client: &aisettings.ClientSettings{},
		OpenAI: &aisettingsopenai.Settings{
			APIKeys:  map[string]string{"openrouter-api-key": "test-key"},
			BaseURLs: map[string]string{},
		},
		Chat: &aisettings.ChatSettings{
			Engine:            &engine,
			ApiType:           &apiType,
			Temperature:       &temp,
			MaxResponseTokens: &maxTokens,
		},
	}
}

func TestMakeCompletionRequestStructuredOutput(t *testing.T) {
	st := testSettings("google/gemini-2.5-flash")
	so := &inference.StructuredOutputConfig{
		Mode:   inference.StructuredOutputModeJSONSchema,
		Name:   "codeact_response",
		Schema: map[string]interface{}{"type": "object"},
		Strict: boolPtr(false),
	}
	msgs := conversation.NewConversation(
		conversation.NewChatMessage(conversation.RoleSystem, "be terse"),
		conversation.NewChatMessage(conversation.RoleUser, "   "),
		conversation.NewChatMessage(conversation.RoleUser, "show a chart"),
	)

	req, err := MakeCompletionRequest(st, msgs, so)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected empty message to be skipped, got %d messages", len(req.Messages))
	}
	if req.ResponseFormat == nil || req.ResponseFormat.JSONSchema == nil {
		t.Fatalf("expected structured response_format to be set")
	}
	if req.ResponseFormat.JSONSchema.Name != "codeact_response" {
		t.Fatalf("expected schema name codeact_response, got %q", req.ResponseFormat.JSONSchema.Name)
	}
	if req.ResponseFormat.JSONSchema.Strict {
		t.Fatalf("expected strict=false to be honored")
	}
	if req.MaxTokens != 512 || req.Temperature != float32(0.2) {
		t.Fatalf("expected sampling settings to be copied, got max=%d temp=%v", req.MaxTokens, req.Temperature)
	}
	if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
		t.Fatalf("expected usage to be requested")
	}
}

func TestMakeCompletionRequestReasoningModel(t *testing.T) {
	st := testSettings("openai/o3-mini")
	req, err := MakeCompletionRequest(st, conversation.NewConversation(
		conversation.NewChatMessage(conversation.RoleUser, "hi"),
	), &inference.StructuredOutputConfig{Mode: inference.StructuredOutputModeJSONObject})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.MaxTokens != 0 || req.MaxCompletionTokens != 512 {
		t.Fatalf("expected max_completion_tokens for reasoning models")
	}
	if req.Temperature != 0 {
		t.Fatalf("expected temperature to be omitted for reasoning models")
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format")
	}
}

func TestMakeClientRequiresKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	st := testSettings("x")
	st.OpenAI.APIKeys = map[string]string{}
	if _, err := MakeClient(st); err == nil {
		t.Fatalf("expected missing key error")
	}
	t.Setenv("OPENROUTER_API_KEY", "from-env")
	if _, err := MakeClient(st); err != nil {
		t.Fatalf("expected env fallback, got %v", err)
	}
}

type collectingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collectingSink) PublishEvent(e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func TestEngineStreamsCompletion(t *testing.T) {
	chunks := []string{`{\"thought\":\"ok\",`, `\"action\":\"provide_answer\",`, `\"final_answer\":\"done\"}`}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for i, c := range chunks {
			finish := "null"
			if i == len(chunks)-1 {
				finish = `"stop"`
			}
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"%s\"},\"finish_reason\":%s}]}\n\n", c, finish)
		}
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":5,\"total_tokens\":15}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	st := testSettings("test-model")
	st.OpenAI.BaseURLs["openrouter-base-url"] = srv.URL
	sink := &collectingSink{}
	e, err := NewOpenAIEngine(st, inference.WithSink(sink))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := events.WithCorrelation(context.Background(), events.Correlation{ConversationID: "c1", TurnID: "t1", TurnIndex: 1})
	msg, err := e.RunInference(ctx, conversation.NewConversation(
		conversation.NewChatMessage(conversation.RoleUser, "hello"),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"thought":"ok","action":"provide_answer","final_answer":"done"}`
	if msg.Text != want {
		t.Fatalf("expected %q, got %q", want, msg.Text)
	}
	if msg.TurnID != "t1" {
		t.Fatalf("expected turn id to be propagated, got %q", msg.TurnID)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 5 {
		t.Fatalf("expected start, 3 partials and final, got %d events", len(sink.events))
	}
	if sink.events[0].Type() != events.EventTypeStart {
		t.Fatalf("expected start event first, got %s", sink.events[0].Type())
	}
	final := sink.events[4]
	if final.Type() != events.EventTypeFinal {
		t.Fatalf("expected final event last, got %s", final.Type())
	}
	meta := final.Metadata()
	if meta.ConversationID != "c1" || meta.TurnIndex != 1 {
		t.Fatalf("expected correlation in metadata, got %+v", meta)
	}
	if meta.Usage == nil || meta.Usage.InputTokens != 10 || meta.Usage.OutputTokens != 5 {
		t.Fatalf("expected usage in final metadata, got %+v", meta.Usage)
	}
	if meta.StopReason == nil || *meta.StopReason != "stop" {
		t.Fatalf("expected stop reason, got %v", meta.StopReason)
	}
}

func TestEngineStreamOutlivesClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for _, c := range []string{"a", "b", "c"} {
			time.Sleep(600 * time.Millisecond)
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"%s\"},\"finish_reason\":null}]}\n\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	st := testSettings("test-model")
	st.OpenAI.BaseURLs["openrouter-base-url"] = srv.URL
	timeout := 1
	st.Client.TimeoutSeconds = &timeout
	e, err := NewOpenAIEngine(st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, err := e.RunInference(context.Background(), conversation.NewConversation(
		conversation.NewChatMessage(conversation.RoleUser, "hello"),
	))
	if err != nil {
		t.Fatalf("stream cut off: %v", err)
	}
	if msg.Text != "abc" {
		t.Fatalf("expected abc, got %q", msg.Text)
	}
}

func TestEngineReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down"}}`))
	}))
	defer srv.Close()

	st := testSettings("test-model")
	st.OpenAI.BaseURLs["openrouter-base-url"] = srv.URL
	sink := &collectingSink{}
	e, err := NewOpenAIEngine(st, inference.WithSink(sink))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = e.RunInference(context.Background(), conversation.NewConversation(
		conversation.NewChatMessage(conversation.RoleUser, "hello"),
	))
	if err == nil {
		t.Fatalf("expected error")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	last := sink.events[len(sink.events)-1]
	if last.Type() != events.EventTypeError {
		t.Fatalf("expected error event, got %s", last.Type())
	}
}
