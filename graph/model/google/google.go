// Package google adapts Google's Gemini API to model.ChatModel.
package google

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/storyflow-go/graph/model"
)

const (
	// DefaultModel is used when neither the constructor nor ChatOptions name one.
	DefaultModel = "gemini-1.5-flash"

	// DefaultMaxTokens applies when ChatOptions.MaxTokens is zero.
	DefaultMaxTokens = 2048

	providerName = "google"
)

// ChatModel implements model.ChatModel for Gemini.
//
// Responses blocked by Gemini's safety filters surface as *SafetyFilterError
// wrapped in a non-retryable model.CallError:
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("Content blocked: %s", safetyErr.Category())
//	}
type ChatModel struct {
	modelName string
	client    contentClient
}

// generateRequest is the provider-neutral form of one Gemini call.
type generateRequest struct {
	model       string
	system      string
	history     []*genai.Content
	prompt      []genai.Part
	temperature float32
	maxTokens   int32
}

type contentClient interface {
	generateContent(ctx context.Context, req generateRequest) (*genai.GenerateContentResponse, error)
}

type sdkClient struct {
	client *genai.Client
}

func (c *sdkClient) generateContent(ctx context.Context, req generateRequest) (*genai.GenerateContentResponse, error) {
	gm := c.client.GenerativeModel(req.model)
	gm.SetTemperature(req.temperature)
	gm.SetMaxOutputTokens(req.maxTokens)
	if req.system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}
	if len(req.history) == 0 {
		return gm.GenerateContent(ctx, req.prompt...)
	}
	cs := gm.StartChat()
	cs.History = req.history
	return cs.SendMessage(ctx, req.prompt...)
}

// NewChatModel creates a Gemini ChatModel. The underlying client holds a
// connection and must be released with Close.
func NewChatModel(ctx context.Context, apiKey, modelName string, opts ...option.ClientOption) (*ChatModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	return &ChatModel{modelName: modelName, client: &sdkClient{client: client}}, nil
}

// Close releases the underlying client.
func (m *ChatModel) Close() error {
	if c, ok := m.client.(*sdkClient); ok && c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	name := m.modelName
	if opts.Model != "" {
		name = opts.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	system, rest := model.SplitSystem(messages)
	req := generateRequest{
		model:       name,
		system:      system,
		temperature: float32(opts.Temperature),
		maxTokens:   int32(maxTokens),
	}
	req.history, req.prompt = convertMessages(rest)

	resp, err := m.client.generateContent(ctx, req)
	if err != nil {
		return model.ChatOut{}, model.ClassifyError(providerName, err)
	}
	return convertResponse(resp, name)
}

// convertMessages splits the conversation into prior turns and the final
// prompt parts. Gemini names the assistant role "model".
func convertMessages(messages []model.Message) ([]*genai.Content, []genai.Part) {
	if len(messages) == 0 {
		return nil, []genai.Part{genai.Text("")}
	}
	history := make([]*genai.Content, 0, len(messages)-1)
	for _, msg := range messages[:len(messages)-1] {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return history, []genai.Part{genai.Text(messages[len(messages)-1].Content)}
}

func convertResponse(resp *genai.GenerateContentResponse, requested string) (model.ChatOut, error) {
	if resp == nil {
		return model.ChatOut{}, &model.CallError{Provider: providerName, Code: model.CodeAPIError, Message: "nil response"}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return model.ChatOut{}, blocked(&SafetyFilterError{
			reason:   resp.PromptFeedback.BlockReason.String(),
			category: firstBlockedCategory(resp.PromptFeedback.SafetyRatings),
		})
	}
	if len(resp.Candidates) == 0 {
		return model.ChatOut{}, &model.CallError{Provider: providerName, Code: model.CodeAPIError, Message: "no candidates in response"}
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return model.ChatOut{}, blocked(&SafetyFilterError{
			reason:   candidate.FinishReason.String(),
			category: firstBlockedCategory(candidate.SafetyRatings),
		})
	}

	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}

	out := model.ChatOut{Text: text.String(), Model: requested}
	out.Usage.Model = requested
	if resp.UsageMetadata != nil {
		out.Usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.Usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func firstBlockedCategory(ratings []*genai.SafetyRating) string {
	for _, r := range ratings {
		if r != nil && r.Blocked {
			return r.Category.String()
		}
	}
	return "unknown"
}

func blocked(err *SafetyFilterError) error {
	return &model.CallError{
		Provider: providerName,
		Code:     model.CodeContentFilter,
		Message:  err.Error(),
		Cause:    err,
	}
}

// SafetyFilterError represents a Gemini safety filter block.
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
