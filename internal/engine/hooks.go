package engine

import (
	"context"
	"time"
)

// Hook observes the agent loop. The core never writes to stdout directly;
// the CLI installs hooks that render.
type Hook interface {
	OnIterationStart(ctx context.Context, iteration, max int)
	OnStreamDelta(ctx context.Context, delta string)
	OnAssistantMessage(ctx context.Context, msg Message)
	OnToolCall(ctx context.Context, call ToolCall)
	OnToolResult(ctx context.Context, call ToolCall, result ToolResult)
	OnToolOutput(ctx context.Context, line string)
	OnRetryAttempt(ctx context.Context, attempt, maxAttempts int, delay time.Duration, err error)
	OnRateLimitWait(ctx context.Context, secondsLeft int)
	OnIterationLimit(ctx context.Context, max int)
	OnError(ctx context.Context, err error)
	OnCancelled(ctx context.Context)
}

// NopHook lets you implement only the hooks you need.
type NopHook struct{}

func (NopHook) OnIterationStart(context.Context, int, int)                  {}
func (NopHook) OnStreamDelta(context.Context, string)                       {}
func (NopHook) OnAssistantMessage(context.Context, Message)                 {}
func (NopHook) OnToolCall(context.Context, ToolCall)                        {}
func (NopHook) OnToolResult(context.Context, ToolCall, ToolResult)          {}
func (NopHook) OnToolOutput(context.Context, string)                        {}
func (NopHook) OnRetryAttempt(context.Context, int, int, time.Duration, error) {}
func (NopHook) OnRateLimitWait(context.Context, int)                        {}
func (NopHook) OnIterationLimit(context.Context, int)                       {}
func (NopHook) OnError(context.Context, error)                              {}
func (NopHook) OnCancelled(context.Context)                                 {}

// Hooks fans out to every installed hook.
type Hooks []Hook

func (hs Hooks) OnIterationStart(ctx context.Context, iteration, max int) {
	for _, h := range hs {
		h.OnIterationStart(ctx, iteration, max)
	}
}

func (hs Hooks) OnStreamDelta(ctx context.Context, delta string) {
	for _, h := range hs {
		h.OnStreamDelta(ctx, delta)
	}
}

func (hs Hooks) OnAssistantMessage(ctx context.Context, msg Message) {
	for _, h := range hs {
		h.OnAssistantMessage(ctx, msg)
	}
}

func (hs Hooks) OnToolCall(ctx context.Context, call ToolCall) {
	for _, h := range hs {
		h.OnToolCall(ctx, call)
	}
}

func (hs Hooks) OnToolResult(ctx context.Context, call ToolCall, result ToolResult) {
	for _, h := range hs {
		h.OnToolResult(ctx, call, result)
	}
}

func (hs Hooks) OnToolOutput(ctx context.Context, line string) {
	for _, h := range hs {
		h.OnToolOutput(ctx, line)
	}
}

func (hs Hooks) OnRetryAttempt(ctx context.Context, attempt, maxAttempts int, delay time.Duration, err error) {
	for _, h := range hs {
		h.OnRetryAttempt(ctx, attempt, maxAttempts, delay, err)
	}
}

func (hs Hooks) OnRateLimitWait(ctx context.Context, secondsLeft int) {
	for _, h := range hs {
		h.OnRateLimitWait(ctx, secondsLeft)
	}
}

func (hs Hooks) OnIterationLimit(ctx context.Context, max int) {
	for _, h := range hs {
		h.OnIterationLimit(ctx, max)
	}
}

func (hs Hooks) OnError(ctx context.Context, err error) {
	for _, h := range hs {
		h.OnError(ctx, err)
	}
}

func (hs Hooks) OnCancelled(ctx context.Context) {
	for _, h := range hs {
		h.OnCancelled(ctx)
	}
}
