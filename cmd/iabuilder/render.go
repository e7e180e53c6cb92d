package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

// renderHook is the terminal renderer: the only place core events become
// stdout.
type renderHook struct {
	engine.NopHook
	out       io.Writer
	streaming bool
}

func (r *renderHook) OnIterationStart(_ context.Context, iteration, max int) {
	if iteration > 1 {
		fmt.Fprintf(r.out, "\033[90m[Iteración %d/%d]\033[0m\n", iteration, max)
	}
}

func (r *renderHook) OnStreamDelta(_ context.Context, delta string) {
	r.streaming = true
	fmt.Fprint(r.out, delta)
}

func (r *renderHook) OnAssistantMessage(_ context.Context, msg engine.Message) {
	if r.streaming {
		// Streaming already printed the content; just close the line.
		fmt.Fprintln(r.out)
		r.streaming = false
		return
	}
	if msg.Content != "" {
		fmt.Fprintln(r.out, msg.Content)
	}
}

func (r *renderHook) OnToolCall(_ context.Context, call engine.ToolCall) {
	args := call.Arguments
	if len(args) > 100 {
		args = args[:100] + "..."
	}
	fmt.Fprintf(r.out, "\033[36m⚙ %s(%s)\033[0m\n", call.Name, args)
}

func (r *renderHook) OnToolResult(_ context.Context, call engine.ToolCall, result engine.ToolResult) {
	if result.Success {
		if result.Summary != "" {
			fmt.Fprintf(r.out, "\033[32m✓ %s\033[0m\n", result.Summary)
		}
		return
	}
	fmt.Fprintf(r.out, "\033[31m✗ %s: %s\033[0m\n", call.Name, result.Error)
}

func (r *renderHook) OnToolOutput(_ context.Context, line string) {
	fmt.Fprintf(r.out, "\033[90m  %s\033[0m\n", line)
}

func (r *renderHook) OnRetryAttempt(_ context.Context, attempt, maxAttempts int, delay time.Duration, err error) {
	fmt.Fprintf(r.out, "\033[33mReintento %d/%d en %s: %v\033[0m\n", attempt, maxAttempts, delay.Round(time.Second), err)
}

func (r *renderHook) OnRateLimitWait(_ context.Context, secondsLeft int) {
	fmt.Fprintf(r.out, "\r\033[33m⏳ Límite de velocidad alcanzado, esperando %ds...\033[0m", secondsLeft)
	if secondsLeft <= 1 {
		fmt.Fprint(r.out, "\r\033[K")
	}
}

func (r *renderHook) OnIterationLimit(_ context.Context, max int) {
	fmt.Fprintf(r.out, "\n\033[33m⚠ Alcanzado el límite de %d iteraciones. Escribe otro mensaje para continuar.\033[0m\n", max)
}

func (r *renderHook) OnError(_ context.Context, err error) {
	fmt.Fprintf(r.out, "\n\033[31mError: %v\033[0m\n", err)
}

func (r *renderHook) OnCancelled(_ context.Context) {
	r.streaming = false
	fmt.Fprintln(r.out, "\n\033[33m⏹ Cancelado.\033[0m")
}
