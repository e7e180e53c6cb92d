// Package engine provides the core agent orchestration.
// This file contains error classification and handling.

package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorKind is the normalized classification for every error the core can
// surface. Every provider adapter maps its wire errors onto one of these.
type ErrorKind string

const (
	KindAuthentication    ErrorKind = "authentication"
	KindRateLimit         ErrorKind = "rate_limit"
	KindNetwork           ErrorKind = "network"
	KindProtocol          ErrorKind = "protocol"
	KindTool              ErrorKind = "tool"
	KindCancelled         ErrorKind = "cancelled"
	KindMalformedToolCall ErrorKind = "malformed_tool_call"
)

// ProviderError wraps provider failures with classification metadata.
// Every error carries its kind, the provider name, and the model id.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	Model      string
	HTTPStatus int
	RetryAfter string // raw Retry-After header value if present
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s %s/%s] %v", e.Kind, e.Provider, e.Model, e.Err)
	}
	return fmt.Sprintf("[%s %s/%s]", e.Kind, e.Provider, e.Model)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError classifies err by HTTP status and wraps it.
func NewProviderError(provider, model string, httpStatus int, retryAfter string, err error) *ProviderError {
	return &ProviderError{
		Kind:       classifyHTTPStatus(httpStatus, err),
		Provider:   provider,
		Model:      model,
		HTTPStatus: httpStatus,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

func classifyHTTPStatus(status int, err error) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthentication
	case http.StatusTooManyRequests:
		return KindRateLimit
	}
	if status == 0 {
		// No HTTP status: network failure, timeout or cancellation.
		if errors.Is(err, context.Canceled) {
			return KindCancelled
		}
		return KindNetwork
	}
	if status >= 500 {
		return KindNetwork
	}
	return KindProtocol
}

// KindOf extracts the error kind, falling back to string heuristics for
// errors that did not pass through a provider adapter (e.g. SDK errors that
// only expose a message).
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "429"),
		strings.Contains(s, "rate limit"),
		strings.Contains(s, "too many requests"):
		return KindRateLimit
	case strings.Contains(s, "401"),
		strings.Contains(s, "403"),
		strings.Contains(s, "unauthorized"),
		strings.Contains(s, "forbidden"),
		strings.Contains(s, "invalid api key"),
		strings.Contains(s, "authentication"):
		return KindAuthentication
	case strings.Contains(s, "timeout"),
		strings.Contains(s, "connection reset"),
		strings.Contains(s, "connection refused"),
		strings.Contains(s, "no such host"),
		strings.Contains(s, "network"),
		strings.Contains(s, "temporary failure"),
		strings.Contains(s, "500"),
		strings.Contains(s, "502"),
		strings.Contains(s, "503"),
		strings.Contains(s, "504"),
		strings.Contains(s, "internal server error"),
		strings.Contains(s, "bad gateway"),
		strings.Contains(s, "service unavailable"),
		strings.Contains(s, "gateway timeout"):
		return KindNetwork
	case strings.Contains(s, "cancel"):
		return KindCancelled
	}
	return KindProtocol
}

// IsTransient reports whether the error is worth retrying: rate limits and
// network failures are; everything else is not.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindNetwork:
		return true
	}
	return false
}

// ExtractRetryAfter extracts a Retry-After duration from an error.
// Returns 0 if not found or invalid.
func ExtractRetryAfter(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter != "" {
		var seconds int
		if _, scanErr := fmt.Sscanf(pe.RetryAfter, "%d", &seconds); scanErr == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, parseErr := time.Parse(time.RFC1123, pe.RetryAfter); parseErr == nil {
			if now := time.Now(); t.After(now) {
				return t.Sub(now)
			}
		}
	}

	s := strings.ToLower(err.Error())
	if idx := strings.Index(s, "retry after "); idx != -1 {
		var seconds int
		if _, scanErr := fmt.Sscanf(s[idx:], "retry after %d", &seconds); scanErr == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// RetryExhaustedError indicates that all retry attempts have been used.
type RetryExhaustedError struct {
	Err      error
	Attempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var re *RetryExhaustedError
	return errors.As(err, &re)
}

// ToolValidationError indicates that tool arguments failed schema validation.
type ToolValidationError struct {
	ToolName string
	Errors   []string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %s validation failed: %s", e.ToolName, strings.Join(e.Errors, "; "))
}
