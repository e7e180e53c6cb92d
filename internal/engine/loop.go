package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaxIterations is the hard cap on model calls per user turn. It is the
// only defence against runaway models; interactive extension is a UI
// concern (the CLI may reset the counter when the user supplies input).
const MaxIterations = 12

// Config holds the runtime knobs of the agent loop.
type Config struct {
	Model         string
	MaxIterations int     // defaults to MaxIterations
	MaxRetries    int     // transient-error retries per model call
	Temperature   float32
	MaxTokens     int
	Streaming     bool
	Autorun       bool // execute tool calls without per-call confirmation
	Toolbox       bool // include tool schemas in requests
}

// DefaultConfig returns the loop defaults.
func DefaultConfig(model string) Config {
	return Config{
		Model:         model,
		MaxIterations: MaxIterations,
		MaxRetries:    2,
		Temperature:   0.5,
		MaxTokens:     8000,
		Streaming:     true,
		Autorun:       true,
		Toolbox:       true,
	}
}

// Processor drives the multi-turn tool-calling dialogue: it alternates
// model calls and tool dispatches until the model stops requesting tools,
// the iteration cap is hit, or the user cancels.
type Processor struct {
	llm     LLMClient
	adapter ResponseAdapter
	tools   ToolRegistry
	conv    History
	gate    RateGate
	hooks   Hooks
	confirm ConfirmFunc
	cfg     Config

	iterations int
}

// NewProcessor wires the agent loop. confirm may be nil when Autorun is on.
func NewProcessor(llm LLMClient, adapter ResponseAdapter, tools ToolRegistry, conv History, gate RateGate, hooks Hooks, confirm ConfirmFunc, cfg Config) *Processor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = MaxIterations
	}
	return &Processor{
		llm:     llm,
		adapter: adapter,
		tools:   tools,
		conv:    conv,
		gate:    gate,
		hooks:   hooks,
		confirm: confirm,
		cfg:     cfg,
	}
}

// Config returns the current loop configuration.
func (p *Processor) Config() Config { return p.cfg }

// SetConfig replaces the loop configuration (toggles, model, knobs).
func (p *Processor) SetConfig(cfg Config) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = MaxIterations
	}
	p.cfg = cfg
}

// SetProvider hot-swaps the provider client and model adapter at runtime.
// Conversation history is preserved across the swap.
func (p *Processor) SetProvider(llm LLMClient, adapter ResponseAdapter, model string) {
	p.llm = llm
	p.adapter = adapter
	p.cfg.Model = model
}

// Iterations returns the model calls made for the current user turn.
func (p *Processor) Iterations() int { return p.iterations }

// ResetIterations zeroes the per-turn counter. HandleUserMessage also
// zeroes it at the start of every turn.
func (p *Processor) ResetIterations() { p.iterations = 0 }

// HandleUserMessage runs one user turn to completion. It appends the user
// message, then loops model calls and tool dispatches until the model
// answers with plain text, the iteration cap is reached, or cancellation.
// Tool failures are never fatal: they are fed back to the model.
func (p *Processor) HandleUserMessage(ctx context.Context, text string) error {
	if err := p.conv.Append(Message{Role: RoleUser, Content: text}); err != nil {
		return err
	}
	p.iterations = 0

	for p.iterations < p.cfg.MaxIterations {
		p.iterations++
		p.hooks.OnIterationStart(ctx, p.iterations, p.cfg.MaxIterations)

		var schemas []ToolSchema
		if p.cfg.Toolbox {
			schemas = p.tools.Schemas()
		}

		// The model adapter decides whether this provider sees native tool
		// messages or the universal text fallback.
		convert := !p.adapter.SupportsNativeToolMessages()
		msgs := p.conv.MessagesForAPI(convert)

		// Gate the call behind the per-minute budgets. Cancellation during
		// the wait ends the turn without issuing an HTTP request.
		estimated := p.gate.EstimateTokens(msgs, schemas)
		if _, err := p.gate.SmartDelay(ctx, estimated); err != nil {
			p.hooks.OnCancelled(ctx)
			return nil
		}

		req := ChatRequest{
			Model:       p.cfg.Model,
			Messages:    msgs,
			Tools:       schemas,
			ToolChoice:  ToolChoice{Mode: ToolChoiceAuto},
			MaxTokens:   p.cfg.MaxTokens,
			Temperature: p.cfg.Temperature,
			Stream:      p.cfg.Streaming,
		}
		if len(schemas) == 0 {
			req.ToolChoice = ToolChoice{Mode: ToolChoiceNone}
		}

		resp, err := p.callWithRetry(ctx, req)
		if err != nil {
			if KindOf(err) == KindCancelled {
				p.hooks.OnCancelled(ctx)
				return nil
			}
			p.hooks.OnError(ctx, err)
			return err
		}

		tokens := resp.Usage.Total
		if tokens == 0 {
			tokens = estimated
		}
		p.gate.Record(tokens)

		// Cancellation mid-stream: commit the partial assistant content,
		// never dispatch tool calls assembled from an aborted stream.
		if resp.FinishReason == FinishCancelled {
			if content := StripThink(resp.Content); content != "" && content != CancelledMessage {
				assistant := Message{Role: RoleAssistant, Content: content}
				if err := p.conv.Append(assistant); err != nil {
					return err
				}
				p.hooks.OnAssistantMessage(ctx, assistant)
			}
			p.hooks.OnCancelled(ctx)
			return nil
		}

		parsed := p.adapter.Parse(resp)

		if len(parsed.ToolCalls) == 0 {
			content := StripThink(parsed.Content)
			if content == "" && parsed.Repaired {
				p.hooks.OnError(ctx, &ProviderError{
					Kind:  KindMalformedToolCall,
					Model: p.cfg.Model,
					Err:   fmt.Errorf("the model emitted an unparseable tool call"),
				})
				return nil
			}
			assistant := Message{Role: RoleAssistant, Content: content}
			if err := p.conv.Append(assistant); err != nil {
				return err
			}
			p.hooks.OnAssistantMessage(ctx, assistant)
			return nil
		}

		assistant := Message{
			Role:      RoleAssistant,
			Content:   StripThink(parsed.Content),
			ToolCalls: parsed.ToolCalls,
		}
		if err := p.conv.Append(assistant); err != nil {
			return err
		}
		p.hooks.OnAssistantMessage(ctx, assistant)

		// Tool calls are dispatched sequentially; each result is appended
		// before the next tool is invoked.
		for _, call := range parsed.ToolCalls {
			if !p.cfg.Autorun && p.confirm != nil && !p.confirm(call.Name, call.Arguments) {
				res := ToolResult{Success: false, Error: "cancelled by user"}
				if err := p.appendToolResult(call, res); err != nil {
					return err
				}
				p.hooks.OnToolResult(ctx, call, res)
				break
			}

			p.hooks.OnToolCall(ctx, call)
			res := p.tools.Execute(ctx, call.Name, call.Arguments)
			if err := p.appendToolResult(call, res); err != nil {
				return err
			}
			p.hooks.OnToolResult(ctx, call, res)
		}
		// Next iteration sends the updated conversation so the model can
		// observe the tool results.
	}

	p.hooks.OnIterationLimit(ctx, p.cfg.MaxIterations)
	return nil
}

func (p *Processor) appendToolResult(call ToolCall, res ToolResult) error {
	return p.conv.Append(Message{
		Role:       RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    res.JSON(),
	})
}

// callWithRetry calls the provider, retrying transient failures (rate
// limit, network) up to the configured limit with backoff.
func (p *Processor) callWithRetry(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = p.cfg.MaxRetries

	var onChunk ChunkFunc
	if req.Stream {
		onChunk = func(delta string) {
			p.hooks.OnStreamDelta(ctx, delta)
		}
	}

	return RetryWithPolicy(ctx, policy,
		func(ctx context.Context) (ChatResponse, error) {
			return p.llm.ChatCompletion(ctx, req, onChunk)
		},
		func(attempt int, delay time.Duration, err error) {
			p.hooks.OnRetryAttempt(ctx, attempt, policy.MaxRetries, delay, err)
		},
	)
}

var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes <think>…</think> reasoning segments from model output.
func StripThink(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}
