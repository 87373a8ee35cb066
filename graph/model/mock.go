package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests.
//
// Responses are returned in order; once consumed, the last response repeats.
// Errs, when set, is consulted per call index before Responses: a non-nil
// entry at the current index is returned instead of a response. Err applies to
// every call.
//
// Example usage:
//
//	mock := &MockChatModel{
//	    Responses: []ChatOut{{Text: "Title\nOnce upon a time..."}},
//	}
//	out, err := mock.Chat(ctx, msgs, ChatOptions{Temperature: 0.8})
type MockChatModel struct {
	Responses []ChatOut
	Errs      []error
	Err       error

	// Handler, if set, computes the reply from the call instead of the scripted
	// slices. It is useful when the reply depends on the prompt.
	Handler func(messages []Message, opts ChatOptions) (ChatOut, error)

	// Calls tracks the history of all Chat invocations.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records a single invocation of Chat.
type MockChatCall struct {
	Messages []Message
	Options  ChatOptions
}

// Chat implements the ChatModel interface.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.Calls)
	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Options: opts})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return ChatOut{}, m.Errs[idx]
	}
	if m.Handler != nil {
		return m.Handler(messages, opts)
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	resp := m.callIndex
	if resp >= len(m.Responses) {
		resp = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[resp], nil
}

// Reset clears the call history and resets the response index.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of times Chat has been called.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}

// LastCall returns the most recent invocation, or false if none happened.
func (m *MockChatModel) LastCall() (MockChatCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Calls) == 0 {
		return MockChatCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}
