package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	// Anthropic requires max_tokens on every request.
	anthropicDefaultMaxTokens = 4096
)

// AnthropicClient implements Provider over the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	apiKey string
	http   *http.Client
}

// NewAnthropic creates an Anthropic provider adapter.
func NewAnthropic(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(apiKey),
		apiKey: apiKey,
		http:   &http.Client{Timeout: listModelTimeout},
	}
}

// Name implements Provider.
func (c *AnthropicClient) Name() string { return "anthropic" }

// buildRequest lifts system messages into the top-level system field,
// converts tool schemas to input_schema form and maps the tool choice onto
// Anthropic's {auto, any, tool} union.
func (c *AnthropicClient) buildRequest(req engine.ChatRequest) (anthropic.MessagesRequest, error) {
	var systemParts []anthropic.MessageSystemPart
	var msgs []anthropic.Message
	var prevAssistantHadToolCalls bool

	for _, msg := range req.Messages {
		switch msg.Role {
		case engine.RoleSystem:
			systemParts = append(systemParts, anthropic.MessageSystemPart{
				Type: "text",
				Text: msg.Content,
			})
			prevAssistantHadToolCalls = false
		case engine.RoleUser:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
			prevAssistantHadToolCalls = false
		case engine.RoleAssistant:
			var content []anthropic.MessageContent
			if msg.Content != "" && msg.Content != " " {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, anthropic.NewToolUseMessageContent(
					tc.ID,
					tc.Name,
					json.RawMessage(tc.Arguments),
				))
			}
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: content,
			})
			prevAssistantHadToolCalls = len(msg.ToolCalls) > 0
		case engine.RoleTool:
			if !prevAssistantHadToolCalls {
				continue
			}
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			msgs = append(msgs, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewToolResultMessageContent(msg.ToolCallID, content, false),
				},
			})
		}
	}

	var toolDefs []anthropic.ToolDefinition
	for _, ts := range req.Tools {
		var schemaObj map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schemaObj); err != nil {
			return anthropic.MessagesRequest{}, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		toolDefs = append(toolDefs, anthropic.ToolDefinition{
			Name:        ts.Name,
			Description: ts.Description,
			InputSchema: schemaObj,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	out := anthropic.MessagesRequest{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		out.Temperature = &temp
	}
	if len(systemParts) > 0 {
		out.MultiSystem = systemParts
	}
	if len(toolDefs) > 0 {
		out.Tools = toolDefs
		switch req.ToolChoice.Mode {
		case engine.ToolChoiceRequired:
			out.ToolChoice = &anthropic.ToolChoice{Type: "any"}
		case engine.ToolChoiceNamed:
			out.ToolChoice = &anthropic.ToolChoice{Type: "tool", Name: req.ToolChoice.Name}
		case engine.ToolChoiceNone:
			// Anthropic has no "none": omit the tools instead.
			out.Tools = nil
		default:
			out.ToolChoice = &anthropic.ToolChoice{Type: "auto"}
		}
	}
	return out, nil
}

// ChatCompletion implements engine.LLMClient.
func (c *AnthropicClient) ChatCompletion(ctx context.Context, req engine.ChatRequest, onChunk engine.ChunkFunc) (engine.ChatResponse, error) {
	wireReq, err := c.buildRequest(req)
	if err != nil {
		return engine.ChatResponse{}, &engine.ProviderError{
			Kind: engine.KindProtocol, Provider: "anthropic", Model: req.Model, Err: err,
		}
	}

	if req.Stream {
		return c.streamCompletion(ctx, wireReq, req.Model, onChunk)
	}

	resp, err := c.client.CreateMessages(ctx, wireReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return cancelledResponse(""), nil
		}
		return engine.ChatResponse{}, c.wrapError(req.Model, err)
	}
	return c.projectResponse(resp), nil
}

// projectResponse maps text and tool_use blocks back into the internal
// shape.
func (c *AnthropicClient) projectResponse(resp anthropic.MessagesResponse) engine.ChatResponse {
	var content string
	var calls []engine.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				content += *block.Text
			}
		case "tool_use":
			if block.MessageContentToolUse != nil && block.MessageContentToolUse.ID != "" {
				tu := block.MessageContentToolUse
				args := string(tu.Input)
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				calls = append(calls, engine.ToolCall{
					ID:        tu.ID,
					Name:      tu.Name,
					Arguments: args,
				})
			}
		}
	}

	finish := engine.FinishStop
	if len(calls) > 0 {
		finish = engine.FinishToolCalls
	} else if resp.StopReason == "max_tokens" {
		finish = engine.FinishLength
	}

	return engine.ChatResponse{
		Content:      content,
		ToolCalls:    calls,
		FinishReason: finish,
		Usage: engine.Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// streamCompletion parses the event stream, forwarding text deltas and
// collecting completed tool_use blocks.
func (c *AnthropicClient) streamCompletion(ctx context.Context, wireReq anthropic.MessagesRequest, model string, onChunk engine.ChunkFunc) (engine.ChatResponse, error) {
	acc := newStreamAccumulator()
	slotIndex := 0

	streamReq := anthropic.MessagesStreamRequest{MessagesRequest: wireReq}
	streamReq.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
		if delta.Delta.Type == "text_delta" && delta.Delta.Text != nil {
			acc.addContent(*delta.Delta.Text)
			if onChunk != nil {
				onChunk(*delta.Delta.Text)
			}
		}
	}
	streamReq.OnContentBlockStop = func(_ anthropic.MessagesEventContentBlockStopData, content anthropic.MessageContent) {
		if content.Type == "tool_use" && content.MessageContentToolUse != nil {
			tu := content.MessageContentToolUse
			acc.addToolCall(toolCallDelta{
				Index:     slotIndex,
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: string(tu.Input),
			})
			slotIndex++
		}
	}

	resp, err := c.client.CreateMessagesStream(ctx, streamReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return cancelledResponse(acc.partialContent()), nil
		}
		return engine.ChatResponse{}, c.wrapError(model, err)
	}

	if resp.StopReason == "max_tokens" {
		acc.setFinish(engine.FinishLength)
	}
	usage := engine.Usage{
		Prompt:     resp.Usage.InputTokens,
		Completion: resp.Usage.OutputTokens,
		Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	return acc.response(usage), nil
}

func (c *AnthropicClient) wrapError(model string, err error) error {
	status, retryAfter := extractErrorMetadata(err)
	return engine.NewProviderError("anthropic", model, status, retryAfter, err)
}

// ListModels queries /v1/models with the x-api-key and anthropic-version
// headers (the SDK does not expose the listing endpoint).
func (c *AnthropicClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, listModelTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, anthropicBaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, engine.NewProviderError("anthropic", "", 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, engine.NewProviderError("anthropic", "", resp.StatusCode,
			resp.Header.Get("Retry-After"),
			fmt.Errorf("model listing failed: %s", strings.TrimSpace(string(body))))
	}

	var payload struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, engine.NewProviderError("anthropic", "", resp.StatusCode, "", err)
	}

	models := make([]ModelInfo, 0, len(payload.Data))
	for _, m := range payload.Data {
		name := m.DisplayName
		if name == "" {
			name = displayName(m.ID)
		}
		models = append(models, ModelInfo{
			ID:                      m.ID,
			Provider:                "anthropic",
			DisplayName:             name,
			ContextLength:           contextLengthFor(m.ID),
			SupportsFunctionCalling: true,
			Category:                "llm",
		})
	}
	return models, nil
}

// FallbackModels implements Provider.
func (c *AnthropicClient) FallbackModels() []ModelInfo {
	ids := fallbackModelIDs["anthropic"]
	models := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		models = append(models, ModelInfo{
			ID:                      id,
			Provider:                "anthropic",
			DisplayName:             displayName(id),
			ContextLength:           contextLengthFor(id),
			SupportsFunctionCalling: true,
			Category:                "llm",
		})
	}
	return models
}

// Categorize implements Provider.
func (c *AnthropicClient) Categorize() map[string][]string {
	return categorizeByInfo(c.FallbackModels())
}

// SupportsFunctionCalling implements Provider; every current Claude model
// supports tool use.
func (c *AnthropicClient) SupportsFunctionCalling(string) bool { return true }

// ValidateAPIKey implements Provider.
func (c *AnthropicClient) ValidateAPIKey() bool {
	key := strings.TrimSpace(c.apiKey)
	return strings.HasPrefix(key, "sk-ant-") && len(key) >= 40
}
