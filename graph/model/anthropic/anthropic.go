// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/storyflow-go/graph/model"
)

const (
	// DefaultModel is used when neither the constructor nor ChatOptions name one.
	DefaultModel = "claude-3-5-haiku-latest"

	// DefaultMaxTokens applies when ChatOptions.MaxTokens is zero. The Messages
	// API requires an explicit limit.
	DefaultMaxTokens = 2048

	providerName = "anthropic"
)

// ChatModel implements model.ChatModel for Anthropic's Claude models.
//
// System messages are lifted into the request's system field; Claude does not
// accept them inline.
type ChatModel struct {
	modelName string
	client    messageClient
}

type messageClient interface {
	createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

type sdkClient struct {
	client *anthropic.Client
}

func (c *sdkClient) createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return c.client.Messages.New(ctx, params)
}

// NewChatModel creates an Anthropic ChatModel.
func NewChatModel(apiKey, modelName string, opts ...option.RequestOption) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	client := anthropic.NewClient(reqOpts...)

	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{client: &client},
	}
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
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(name),
		MaxTokens:   int64(maxTokens),
		Messages:    convertMessages(rest),
		Temperature: anthropic.Float(clampTemperature(opts.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := m.client.createMessage(ctx, params)
	if err != nil {
		return model.ChatOut{}, model.ClassifyError(providerName, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	served := string(msg.Model)
	if served == "" {
		served = name
	}
	return model.ChatOut{
		Text:  text.String(),
		Model: served,
		Usage: model.Usage{
			Model:        served,
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// clampTemperature maps into Claude's accepted range [0, 1].
func clampTemperature(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}

func convertMessages(messages []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}
