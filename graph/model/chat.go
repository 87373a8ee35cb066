// Package model defines the plain LLM call capability used by workflow stages.
//
// A ChatModel performs exactly one provider request per Chat call. Stages that
// need an LLM depend on this interface and nothing else, so a stage can never
// re-enter a workflow orchestrator through it.
package model

import "context"

// ChatModel sends a conversation to an LLM provider and returns its reply.
//
// Implementations should:
//   - Convert the standard Message format to the provider's wire format.
//   - Honor ChatOptions (model override, temperature, max tokens).
//   - Report token usage when the provider returns it.
//   - Respect context cancellation and deadlines.
//
// Example usage:
//
//	m := openai.NewChatModel(apiKey, "gpt-4o-mini")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You write bedtime stories."},
//	    {Role: model.RoleUser, Content: prompt},
//	}, model.ChatOptions{Temperature: 0.8, MaxTokens: 2000})
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatOut, error)
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role identifies the message sender. Use the Role* constants.
	Role string

	// Content contains the message text.
	Content string
}

// Standard role constants for LLM conversations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOptions carries per-call generation parameters.
type ChatOptions struct {
	// Model overrides the adapter's default model when non-empty.
	Model string

	// Temperature is sent to the provider as-is.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the adapter default.
	MaxTokens int
}

// Usage reports token consumption of one call.
type Usage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ChatOut represents the output from an LLM chat completion.
type ChatOut struct {
	// Text contains the generated response.
	Text string

	// Model is the model that actually served the request.
	Model string

	// Usage is zero when the provider does not report token counts.
	Usage Usage
}

// Prompt builds the common system+user message pair. An empty system prompt
// yields a single user message.
func Prompt(system, user string) []Message {
	if system == "" {
		return []Message{{Role: RoleUser, Content: user}}
	}
	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
}

// SplitSystem separates system messages from the rest of the conversation,
// joining multiple system messages with blank lines. Providers that take the
// system prompt as a request field use it.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
