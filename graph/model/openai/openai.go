// Package openai adapts the OpenAI Chat Completions API to model.ChatModel.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/storyflow-go/graph/model"
)

const (
	// DefaultModel is used when neither the constructor nor ChatOptions name one.
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxTokens applies when ChatOptions.MaxTokens is zero.
	DefaultMaxTokens = 2048

	providerName = "openai"
)

// ChatModel implements model.ChatModel for OpenAI's API.
//
// Retries are disabled in the SDK; wrap the model in model.Resilient to get
// bounded retry with backoff:
//
//	m := model.NewResilient(openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o"))
type ChatModel struct {
	modelName string
	client    completionClient
}

// completionClient is the slice of the SDK used here. Tests substitute it.
type completionClient interface {
	createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type sdkClient struct {
	client *openai.Client
}

func (c *sdkClient) createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

// NewChatModel creates an OpenAI ChatModel. Extra request options (base URL,
// organization, HTTP client) are passed through to the SDK.
func NewChatModel(apiKey, modelName string, opts ...option.RequestOption) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	client := openai.NewClient(reqOpts...)

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

	completion, err := m.client.createChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(name),
		Messages:            convertMessages(messages),
		Temperature:         openai.Float(opts.Temperature),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return model.ChatOut{}, model.ClassifyError(providerName, err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return model.ChatOut{}, &model.CallError{
			Provider: providerName,
			Code:     model.CodeAPIError,
			Message:  "no choices in response",
			Cause:    errors.New("empty completion"),
		}
	}

	served := completion.Model
	if served == "" {
		served = name
	}
	return model.ChatOut{
		Text:  completion.Choices[0].Message.Content,
		Model: served,
		Usage: model.Usage{
			Model:        served,
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
