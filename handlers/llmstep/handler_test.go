package llmstep

import (
	"context"
	"testing"

	"github.com/dshills/flowmonkey-go/engine"
	"github.com/dshills/flowmonkey-go/llm"
	"github.com/dshills/flowmonkey-go/store"
)

type fakeModel struct {
	reply string
	err   error
}

func (f *fakeModel) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.ChatOut, error) {
	if f.err != nil {
		return llm.ChatOut{}, f.err
	}
	return llm.ChatOut{Text: f.reply}, nil
}

func TestHandlerExecuteStringInput(t *testing.T) {
	h := &Handler{NewModel: func(provider, model, apiKey string) (llm.ChatModel, error) {
		return &fakeModel{reply: "hello back"}, nil
	}}

	result := h.Execute(context.Background(), engine.HandlerParams{
		Input: "hi there",
		Step:  store.Step{Type: HandlerType, Config: map[string]any{"provider": "anthropic"}},
	})

	if result.Outcome != engine.OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", result.Outcome, result.Error)
	}
	out, ok := result.Output.(map[string]any)
	if !ok || out["text"] != "hello back" {
		t.Fatalf("unexpected output: %#v", result.Output)
	}
}

func TestHandlerExecuteMessagesInput(t *testing.T) {
	var captured []llm.Message
	h := &Handler{NewModel: func(provider, model, apiKey string) (llm.ChatModel, error) {
		return &capturingModel{seen: &captured, reply: "ok"}, nil
	}}

	input := map[string]any{
		"messages": []any{
			map[string]any{"role": llm.RoleUser, "content": "first"},
			map[string]any{"role": llm.RoleAssistant, "content": "second"},
		},
	}
	result := h.Execute(context.Background(), engine.HandlerParams{
		Input: input,
		Step:  store.Step{Type: HandlerType, Config: map[string]any{"provider": "openai", "systemPrompt": "be terse"}},
	})

	if result.Outcome != engine.OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", result.Outcome, result.Error)
	}
	if len(captured) != 3 || captured[0].Role != llm.RoleSystem {
		t.Fatalf("expected system prompt prepended, got %#v", captured)
	}
}

func TestHandlerExecuteUnknownProvider(t *testing.T) {
	h := New()
	result := h.Execute(context.Background(), engine.HandlerParams{
		Input: "hi",
		Step:  store.Step{Type: HandlerType, Config: map[string]any{"provider": "acme"}},
	})
	if result.Outcome != engine.OutcomeFailure {
		t.Fatalf("expected failure for unknown provider, got %v", result.Outcome)
	}
}

func TestHandlerExecuteChatError(t *testing.T) {
	h := &Handler{NewModel: func(provider, model, apiKey string) (llm.ChatModel, error) {
		return &fakeModel{err: context.DeadlineExceeded}, nil
	}}
	result := h.Execute(context.Background(), engine.HandlerParams{
		Input: "hi",
		Step:  store.Step{Type: HandlerType, Config: map[string]any{"provider": "google"}},
	})
	if result.Outcome != engine.OutcomeFailure || result.Error.Code != "LLM_CHAT_ERROR" {
		t.Fatalf("expected LLM_CHAT_ERROR failure, got %#v", result)
	}
}

type capturingModel struct {
	seen  *[]llm.Message
	reply string
}

func (c *capturingModel) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.ChatOut, error) {
	*c.seen = messages
	return llm.ChatOut{Text: c.reply}, nil
}
