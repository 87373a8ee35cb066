package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dshills/storyflow-go/graph/model"
)

type mockClient struct {
	completion *openai.ChatCompletion
	err        error
	params     []openai.ChatCompletionNewParams
}

func (m *mockClient) createChatCompletion(_ context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	m.params = append(m.params, params)
	return m.completion, m.err
}

func TestNewChatModel(t *testing.T) {
	m := NewChatModel("test-key", "")
	if m.modelName != DefaultModel {
		t.Errorf("modelName = %q, want %q", m.modelName, DefaultModel)
	}
	if NewChatModel("test-key", "gpt-4o").modelName != "gpt-4o" {
		t.Error("explicit model name ignored")
	}
}

func TestChatModel_Chat(t *testing.T) {
	client := &mockClient{completion: &openai.ChatCompletion{
		Model: "gpt-4o-2024-08-06",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "The Brave Star\nOnce upon a time"}},
		},
		Usage: openai.CompletionUsage{PromptTokens: 120, CompletionTokens: 340},
	}}
	m := &ChatModel{modelName: "gpt-4o", client: client}

	out, err := m.Chat(context.Background(), model.Prompt("sys", "story"), model.ChatOptions{Temperature: 0.95, MaxTokens: 900})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != "The Brave Star\nOnce upon a time" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Model != "gpt-4o-2024-08-06" || out.Usage.InputTokens != 120 || out.Usage.OutputTokens != 340 {
		t.Errorf("unexpected usage %+v (model %q)", out.Usage, out.Model)
	}

	if len(client.params) != 1 {
		t.Fatalf("expected 1 request, got %d", len(client.params))
	}
	p := client.params[0]
	if string(p.Model) != "gpt-4o" {
		t.Errorf("request model = %q", p.Model)
	}
	if len(p.Messages) != 2 {
		t.Errorf("expected system+user messages, got %d", len(p.Messages))
	}
	if p.Temperature.Value != 0.95 || p.MaxCompletionTokens.Value != 900 {
		t.Errorf("temperature/max tokens not forwarded: %v/%v", p.Temperature.Value, p.MaxCompletionTokens.Value)
	}
}

func TestChatModel_ModelOverrideAndDefaults(t *testing.T) {
	client := &mockClient{completion: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
	}}
	m := &ChatModel{modelName: "gpt-4o", client: client}

	out, err := m.Chat(context.Background(), model.Prompt("", "hi"), model.ChatOptions{Model: "gpt-4.1-mini"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if string(client.params[0].Model) != "gpt-4.1-mini" || out.Model != "gpt-4.1-mini" {
		t.Errorf("override not applied: request %q, out %q", client.params[0].Model, out.Model)
	}
	if client.params[0].MaxCompletionTokens.Value != DefaultMaxTokens {
		t.Errorf("default max tokens not applied: %v", client.params[0].MaxCompletionTokens.Value)
	}
}

func TestChatModel_Errors(t *testing.T) {
	t.Run("provider error is classified", func(t *testing.T) {
		m := &ChatModel{modelName: "gpt-4o", client: &mockClient{err: errors.New("429 Too Many Requests")}}
		_, err := m.Chat(context.Background(), model.Prompt("", "hi"), model.ChatOptions{})
		var ce *model.CallError
		if !errors.As(err, &ce) || ce.Code != model.CodeRateLimited || ce.Provider != "openai" {
			t.Fatalf("expected rate_limited CallError, got %v", err)
		}
	})

	t.Run("empty choices", func(t *testing.T) {
		m := &ChatModel{modelName: "gpt-4o", client: &mockClient{completion: &openai.ChatCompletion{}}}
		if _, err := m.Chat(context.Background(), model.Prompt("", "hi"), model.ChatOptions{}); err == nil {
			t.Fatal("expected error for empty choices")
		}
	})

	t.Run("cancelled context skips the call", func(t *testing.T) {
		client := &mockClient{}
		m := &ChatModel{modelName: "gpt-4o", client: client}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := m.Chat(ctx, model.Prompt("", "hi"), model.ChatOptions{}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if len(client.params) != 0 {
			t.Error("no request should be sent")
		}
	})
}

func TestChatModel_SDKRoundTrip(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Moonlight Garden\nThe flowers sang softly."}}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 22, "total_tokens": 33}
		}`)
	}))
	defer srv.Close()

	m := NewChatModel("test-key", "", option.WithBaseURL(srv.URL+"/"))
	out, err := m.Chat(context.Background(), model.Prompt("sys", "story"), model.ChatOptions{Temperature: 0.6})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != "Moonlight Garden\nThe flowers sang softly." || out.Usage.OutputTokens != 22 {
		t.Errorf("unexpected output %+v", out)
	}
	if gotBody["model"] != DefaultModel || gotBody["temperature"] != 0.6 {
		t.Errorf("unexpected request body %v", gotBody)
	}
}
