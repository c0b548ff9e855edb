// Package llmstep registers the "llm.chat" handler type: a step handler
// that sends the resolved input to a configured LLM provider and returns
// the completion as its success output. It is the concrete home DOMAIN
// STACK gives the teacher's graph/model chat adapters (anthropic, openai,
// google) inside the engine's Handler contract.
package llmstep

import (
	"context"
	"fmt"

	"github.com/dshills/flowmonkey-go/engine"
	"github.com/dshills/flowmonkey-go/llm"
	"github.com/dshills/flowmonkey-go/llm/anthropic"
	"github.com/dshills/flowmonkey-go/llm/google"
	"github.com/dshills/flowmonkey-go/llm/openai"
)

// HandlerType is the step.type value that dispatches to this handler.
const HandlerType = "llm.chat"

// Provider names recognized by Step.Config["provider"].
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// Factory builds an llm.ChatModel for a provider name and model name. The
// default factory wraps the three built-in adapters; callers running
// against a mock or a fourth provider supply their own.
type Factory func(provider, model, apiKey string) (llm.ChatModel, error)

// DefaultFactory constructs the built-in anthropic/openai/google adapters.
func DefaultFactory(provider, model, apiKey string) (llm.ChatModel, error) {
	switch provider {
	case ProviderAnthropic:
		return anthropic.NewChatModel(apiKey, model), nil
	case ProviderOpenAI:
		return openai.NewChatModel(apiKey, model), nil
	case ProviderGoogle:
		return google.NewChatModel(apiKey, model), nil
	default:
		return nil, fmt.Errorf("llmstep: unknown provider %q", provider)
	}
}

// Handler implements engine.Handler for HandlerType. Step.Config carries
// {provider, model, apiKey, systemPrompt}; the resolved input is used
// verbatim as the user message content (a string) or, for a
// {"messages": [...]}-shaped input, as a full conversation.
type Handler struct {
	NewModel Factory
}

// New builds an llmstep.Handler using DefaultFactory.
func New() *Handler {
	return &Handler{NewModel: DefaultFactory}
}

var _ engine.Handler = (*Handler)(nil)

func (h *Handler) Execute(ctx context.Context, params engine.HandlerParams) engine.StepResult {
	provider, _ := params.Step.Config["provider"].(string)
	modelName, _ := params.Step.Config["model"].(string)
	apiKey, _ := params.Step.Config["apiKey"].(string)
	systemPrompt, _ := params.Step.Config["systemPrompt"].(string)

	factory := h.NewModel
	if factory == nil {
		factory = DefaultFactory
	}
	model, err := factory(provider, modelName, apiKey)
	if err != nil {
		return engine.Failure("LLM_PROVIDER_ERROR", err.Error())
	}

	messages, err := buildMessages(systemPrompt, params.Input)
	if err != nil {
		return engine.Failure("LLM_INPUT_INVALID", err.Error())
	}

	out, err := model.Chat(ctx, messages, nil)
	if err != nil {
		return engine.Failure("LLM_CHAT_ERROR", err.Error())
	}

	return engine.Success(map[string]any{"text": out.Text})
}

func buildMessages(systemPrompt string, input any) ([]llm.Message, error) {
	var messages []llm.Message
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}

	switch v := input.(type) {
	case string:
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: v})
	case map[string]any:
		raw, ok := v["messages"].([]any)
		if !ok {
			prompt, _ := v["prompt"].(string)
			if prompt == "" {
				return nil, fmt.Errorf("llmstep: input must be a string, {prompt}, or {messages}")
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
			return messages, nil
		}
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			messages = append(messages, llm.Message{Role: role, Content: content})
		}
	default:
		return nil, fmt.Errorf("llmstep: unsupported input type %T", input)
	}
	return messages, nil
}
