package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error is implemented by every failure the client or an adapter returns.
// Retry consults Retryable and RetryAfter.
type Error interface {
	error
	Provider() string
	StatusCode() int
	Retryable() bool
	RetryAfter() *time.Duration
}

type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.TrimSpace(e.Message)
}
func (e *ConfigurationError) Provider() string           { return "" }
func (e *ConfigurationError) StatusCode() int            { return 0 }
func (e *ConfigurationError) Retryable() bool            { return false }
func (e *ConfigurationError) RetryAfter() *time.Duration { return nil }

type providerError struct {
	provider   string
	statusCode int
	message    string
	retryable  bool
	retryAfter *time.Duration
	cause      error
}

func (e *providerError) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" {
		msg = "request failed"
	}
	if e.statusCode == 0 {
		return fmt.Sprintf("%s error: %s", e.provider, msg)
	}
	return fmt.Sprintf("%s error (status=%d): %s", e.provider, e.statusCode, msg)
}
func (e *providerError) Provider() string           { return e.provider }
func (e *providerError) StatusCode() int            { return e.statusCode }
func (e *providerError) Retryable() bool            { return e.retryable }
func (e *providerError) RetryAfter() *time.Duration { return e.retryAfter }
func (e *providerError) Unwrap() error              { return e.cause }

type InvalidRequestError struct{ providerError }
type AuthenticationError struct{ providerError }
type AccessDeniedError struct{ providerError }
type NotFoundError struct{ providerError }
type RequestTimeoutError struct{ providerError }
type ContextLengthError struct{ providerError }
type ContentFilterError struct{ providerError }
type RateLimitError struct{ providerError }
type ServerError struct{ providerError }
type NetworkError struct{ providerError }
type AbortError struct{ providerError }
type UnknownHTTPError struct{ providerError }

// ErrorFromHTTPStatus classifies a non-2xx provider response.
func ErrorFromHTTPStatus(provider string, statusCode int, message string, retryAfter *time.Duration) error {
	base := providerError{
		provider:   strings.TrimSpace(provider),
		statusCode: statusCode,
		message:    message,
		retryAfter: retryAfter,
	}
	switch statusCode {
	case 400, 422:
		if err := classifyByMessage(base); err != nil {
			return err
		}
		return &InvalidRequestError{base}
	case 401:
		return &AuthenticationError{base}
	case 403:
		return &AccessDeniedError{base}
	case 404:
		return &NotFoundError{base}
	case 408:
		base.retryable = true
		return &RequestTimeoutError{base}
	case 413:
		return &ContextLengthError{base}
	case 429:
		base.retryable = true
		return &RateLimitError{base}
	case 500, 502, 503, 504:
		base.retryable = true
		return &ServerError{base}
	default:
		base.retryable = statusCode >= 500
		return &UnknownHTTPError{base}
	}
}

// classifyByMessage refines 400/422 responses whose real cause is only in
// the body text.
func classifyByMessage(base providerError) error {
	lower := strings.ToLower(base.message)
	switch {
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{base}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return &ContextLengthError{base}
	case strings.Contains(lower, "does not exist") || strings.Contains(lower, "model not found"):
		return &NotFoundError{base}
	}
	return nil
}

// NewNetworkError wraps a transport failure. These are retried.
func NewNetworkError(provider string, cause error) error {
	return &NetworkError{providerError{
		provider:  strings.TrimSpace(provider),
		message:   cause.Error(),
		retryable: true,
		cause:     cause,
	}}
}

// WrapContextError maps context cancellation and deadline errors into the
// unified hierarchy. Neither is retried. Other errors pass through.
func WrapContextError(provider string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &RequestTimeoutError{providerError{provider: provider, message: "request deadline exceeded", cause: err}}
	case errors.Is(err, context.Canceled):
		return &AbortError{providerError{provider: provider, message: "request canceled", cause: err}}
	}
	return err
}

// ParseRetryAfter accepts integer seconds or an HTTP-date.
func ParseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

func IsAuthenticationError(err error) bool {
	var e *AuthenticationError
	return errors.As(err, &e)
}
