package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/dshills/storyflow-go/graph/model"
)

type mockClient struct {
	message *anthropic.Message
	err     error
	params  []anthropic.MessageNewParams
}

func (m *mockClient) createMessage(_ context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	m.params = append(m.params, params)
	return m.message, m.err
}

func TestNewChatModel(t *testing.T) {
	if m := NewChatModel("key", ""); m.modelName != DefaultModel {
		t.Errorf("modelName = %q", m.modelName)
	}
}

func TestChatModel_Chat(t *testing.T) {
	client := &mockClient{message: &anthropic.Message{
		Model: "claude-3-5-sonnet-20241022",
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "The Sleepy Owl\n"},
			{Type: "text", Text: "Owl yawned."},
		},
		Usage: anthropic.Usage{InputTokens: 50, OutputTokens: 75},
	}}
	m := &ChatModel{modelName: DefaultModel, client: client}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: "You are a storyteller."},
		{Role: model.RoleUser, Content: "Tell a story."},
	}
	out, err := m.Chat(context.Background(), messages, model.ChatOptions{Temperature: 1.4, MaxTokens: 500})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != "The Sleepy Owl\nOwl yawned." {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Model != "claude-3-5-sonnet-20241022" || out.Usage.InputTokens != 50 || out.Usage.OutputTokens != 75 {
		t.Errorf("unexpected usage %+v", out.Usage)
	}

	p := client.params[0]
	if len(p.System) != 1 || p.System[0].Text != "You are a storyteller." {
		t.Errorf("system prompt not lifted: %+v", p.System)
	}
	if len(p.Messages) != 1 {
		t.Errorf("expected 1 non-system message, got %d", len(p.Messages))
	}
	if p.MaxTokens != 500 {
		t.Errorf("MaxTokens = %d", p.MaxTokens)
	}
	if p.Temperature.Value != 1 {
		t.Errorf("temperature should clamp to 1, got %v", p.Temperature.Value)
	}
}

func TestChatModel_Errors(t *testing.T) {
	m := &ChatModel{modelName: DefaultModel, client: &mockClient{err: errors.New("529 overloaded_error")}}
	_, err := m.Chat(context.Background(), model.Prompt("", "hi"), model.ChatOptions{})
	if !model.IsRetryable(err) {
		t.Errorf("overloaded should be retryable, got %v", err)
	}

	m = &ChatModel{modelName: DefaultModel, client: &mockClient{err: errors.New("401 authentication_error: invalid x-api-key")}}
	_, err = m.Chat(context.Background(), model.Prompt("", "hi"), model.ChatOptions{})
	var ce *model.CallError
	if !errors.As(err, &ce) || ce.Code != model.CodeInvalidAPIKey || ce.Retryable {
		t.Errorf("expected permanent invalid_api_key, got %v", err)
	}
}

func TestClampTemperature(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0.6: 0.6, 0.95: 0.95, 2: 1} {
		if got := clampTemperature(in); got != want {
			t.Errorf("clampTemperature(%v) = %v, want %v", in, got, want)
		}
	}
}
