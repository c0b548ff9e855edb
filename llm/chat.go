// Package llm defines the provider-agnostic chat interface the llmstep
// handler type dispatches against, adapted from the teacher's graph/model
// package. Only the plain-text Chat path is carried over: the engine's
// handler contract has no notion of LLM tool calls, so ToolSpec/ToolCall
// exist for provider-adapter fidelity but are never populated by llmstep.
package llm

import "context"

// ChatModel abstracts a single provider's chat completion call.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn in a conversation.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a callable tool, carried for interface parity with the
// teacher's adapters. Unused by llmstep (see package doc).
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatOut is a provider's response.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is a tool invocation request from the model. See ToolSpec.
type ToolCall struct {
	Name  string
	Input map[string]any
}
