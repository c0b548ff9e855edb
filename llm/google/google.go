// Package google adapts Google's Gemini API to llm.ChatModel, adapted from
// the teacher's graph/model/google adapter.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/flowmonkey-go/llm"
)

// ChatModel implements llm.ChatModel for Gemini.
type ChatModel struct {
	apiKey    string
	modelName string
}

// NewChatModel builds a Gemini-backed ChatModel. An empty modelName defaults
// to gemini-2.5-flash.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &ChatModel{apiKey: apiKey, modelName: modelName}
}

func (m *ChatModel) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.ChatOut, error) {
	if ctx.Err() != nil {
		return llm.ChatOut{}, ctx.Err()
	}
	if m.apiKey == "" {
		return llm.ChatOut{}, errors.New("google: API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return llm.ChatOut{}, fmt.Errorf("google: creating client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(m.modelName)
	parts := convertMessages(messages)

	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return llm.ChatOut{}, fmt.Errorf("google: %w", err)
	}
	return convertResponse(resp), nil
}

func convertMessages(messages []llm.Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func convertResponse(resp *genai.GenerateContentResponse) llm.ChatOut {
	var out llm.ChatOut
	if resp == nil || len(resp.Candidates) == 0 {
		return out
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				if out.Text != "" {
					out.Text += "\n"
				}
				out.Text += string(text)
			}
		}
	}
	return out
}
