package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error codes assigned by ClassifyError.
const (
	CodeRateLimited   = "rate_limited"
	CodeTimeout       = "timeout"
	CodeServerError   = "server_error"
	CodeNetworkError  = "network_error"
	CodeInvalidAPIKey = "invalid_api_key"
	CodeQuotaExceeded = "quota_exceeded"
	CodeContentFilter = "content_filtered"
	CodeAPIError      = "api_error"
)

// CallError is a classified provider failure.
//
// Retryable marks transient failures (rate limits, timeouts, 5xx, network)
// that the Resilient decorator may retry. Permanent failures such as bad
// credentials are returned immediately.
type CallError struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Code, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is a CallError marked retryable.
func IsRetryable(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Retryable
}

// ClassifyError maps a raw provider SDK error onto a CallError.
//
// SDK errors are matched by status code text and well-known phrases because
// the three provider SDKs expose unrelated error types. context.Canceled is
// returned unchanged; an existing CallError passes through.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}

	wrap := func(code string, retryable bool) error {
		return &CallError{Provider: provider, Code: code, Message: err.Error(), Retryable: retryable, Cause: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return wrap(CodeTimeout, true)
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, "rate limit", "429", "too many requests", "resource_exhausted", "overloaded"):
		return wrap(CodeRateLimited, true)
	case containsAny(lower, "invalid api key", "incorrect api key", "invalid_api_key", "api key not valid", "401", "unauthorized", "authentication"):
		return wrap(CodeInvalidAPIKey, false)
	case containsAny(lower, "insufficient_quota", "quota", "billing"):
		return wrap(CodeQuotaExceeded, false)
	case containsAny(lower, "500", "502", "503", "504", "529", "internal server error", "bad gateway", "service unavailable", "gateway timeout"):
		return wrap(CodeServerError, true)
	case containsAny(lower, "connection", "timeout", "network", "eof"):
		return wrap(CodeNetworkError, true)
	}
	return wrap(CodeAPIError, false)
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
