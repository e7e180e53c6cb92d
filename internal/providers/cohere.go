package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

const cohereBaseURL = "https://api.cohere.ai/v1"

// CohereClient implements Provider over the Cohere chat API, which speaks
// {message, chat_history, preamble} instead of a flat message list.
type CohereClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewCohere creates a Cohere provider adapter.
func NewCohere(apiKey, baseURL string) *CohereClient {
	if baseURL == "" {
		baseURL = cohereBaseURL
	}
	return &CohereClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: chatTimeout},
	}
}

// Name implements Provider.
func (c *CohereClient) Name() string { return "cohere" }

type cohereHistoryEntry struct {
	Role    string `json:"role"` // USER or CHATBOT
	Message string `json:"message"`
}

type cohereParamDef struct {
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
}

type cohereTool struct {
	Name                 string                    `json:"name"`
	Description          string                    `json:"description,omitempty"`
	ParameterDefinitions map[string]cohereParamDef `json:"parameter_definitions"`
}

type cohereRequest struct {
	Model       string               `json:"model"`
	Message     string               `json:"message"`
	ChatHistory []cohereHistoryEntry `json:"chat_history,omitempty"`
	Preamble    string               `json:"preamble,omitempty"`
	Tools       []cohereTool         `json:"tools,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature *float32             `json:"temperature,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

type cohereToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

type cohereResponse struct {
	Text         string           `json:"text"`
	ToolCalls    []cohereToolCall `json:"tool_calls"`
	FinishReason string           `json:"finish_reason"`
	Meta         *struct {
		Tokens struct {
			InputTokens  float64 `json:"input_tokens"`
			OutputTokens float64 `json:"output_tokens"`
		} `json:"tokens"`
	} `json:"meta"`
	Message string `json:"message"` // error payloads
}

// buildRequest folds the message list into Cohere's shape: system messages
// concatenate into the preamble, the trailing user message becomes the
// prompt, everything before it becomes chat_history.
func (c *CohereClient) buildRequest(req engine.ChatRequest) cohereRequest {
	out := cohereRequest{Model: req.Model}

	var preamble strings.Builder
	var history []cohereHistoryEntry
	var current string

	for _, msg := range req.Messages {
		switch msg.Role {
		case engine.RoleSystem:
			preamble.WriteString(msg.Content)
			preamble.WriteString("\n")
		case engine.RoleUser:
			if current != "" {
				history = append(history, cohereHistoryEntry{Role: "USER", Message: current})
			}
			current = msg.Content
		case engine.RoleAssistant:
			if current != "" {
				history = append(history, cohereHistoryEntry{Role: "USER", Message: current})
				current = ""
			}
			content := msg.Content
			for _, tc := range msg.ToolCalls {
				content += fmt.Sprintf("\n[tool call] %s(%s)", tc.Name, tc.Arguments)
			}
			history = append(history, cohereHistoryEntry{Role: "CHATBOT", Message: content})
		case engine.RoleTool:
			// Tool results reach Cohere through the text fallback view; if
			// one slips through natively, degrade it to a user entry.
			if current != "" {
				history = append(history, cohereHistoryEntry{Role: "USER", Message: current})
			}
			current = fmt.Sprintf("[Resultado de %s]:\n%s", msg.ToolName, msg.Content)
		}
	}

	out.Message = current
	out.ChatHistory = history
	out.Preamble = strings.TrimSpace(preamble.String())

	if len(req.Tools) > 0 && req.ToolChoice.Mode != engine.ToolChoiceNone {
		for _, ts := range req.Tools {
			out.Tools = append(out.Tools, convertToolToCohere(ts))
		}
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		out.Temperature = &temp
	}
	return out
}

// convertToolToCohere flattens a JSON schema into parameter_definitions.
func convertToolToCohere(ts engine.ToolSchema) cohereTool {
	tool := cohereTool{
		Name:                 ts.Name,
		Description:          ts.Description,
		ParameterDefinitions: make(map[string]cohereParamDef),
	}

	var schema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal([]byte(ts.JSONSchema), &schema); err != nil {
		return tool
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	for name, prop := range schema.Properties {
		paramType := prop.Type
		if paramType == "" {
			paramType = "str"
		}
		tool.ParameterDefinitions[name] = cohereParamDef{
			Description: prop.Description,
			Type:        paramType,
			Required:    required[name],
		}
	}
	return tool
}

// ChatCompletion implements engine.LLMClient.
func (c *CohereClient) ChatCompletion(ctx context.Context, req engine.ChatRequest, onChunk engine.ChunkFunc) (engine.ChatResponse, error) {
	wireReq := c.buildRequest(req)
	wireReq.Stream = req.Stream

	body, err := json.Marshal(wireReq)
	if err != nil {
		return engine.ChatResponse{}, &engine.ProviderError{
			Kind: engine.KindProtocol, Provider: "cohere", Model: req.Model, Err: err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return engine.ChatResponse{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return cancelledResponse(""), nil
		}
		return engine.ChatResponse{}, engine.NewProviderError("cohere", req.Model, 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return engine.ChatResponse{}, engine.NewProviderError("cohere", req.Model,
			resp.StatusCode, resp.Header.Get("Retry-After"),
			fmt.Errorf("request failed: %s", strings.TrimSpace(string(raw))))
	}

	if req.Stream {
		return c.readStream(ctx, resp.Body, req.Model, onChunk)
	}

	var payload cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return engine.ChatResponse{}, engine.NewProviderError("cohere", req.Model, resp.StatusCode, "", err)
	}
	return projectCohereResponse(payload), nil
}

// projectCohereResponse post-processes Cohere tool calls back into the
// canonical {id,name,arguments} form.
func projectCohereResponse(payload cohereResponse) engine.ChatResponse {
	var calls []engine.ToolCall
	for i, tc := range payload.ToolCalls {
		args, err := json.Marshal(tc.Parameters)
		if err != nil || len(args) == 0 {
			args = []byte("{}")
		}
		calls = append(calls, engine.ToolCall{
			ID:        fmt.Sprintf("call_%s_%d", tc.Name, i),
			Name:      tc.Name,
			Arguments: string(args),
		})
	}

	finish := engine.FinishStop
	if len(calls) > 0 {
		finish = engine.FinishToolCalls
	} else if payload.FinishReason == "MAX_TOKENS" {
		finish = engine.FinishLength
	}

	out := engine.ChatResponse{
		Content:      payload.Text,
		ToolCalls:    calls,
		FinishReason: finish,
	}
	if payload.Meta != nil {
		prompt := int(payload.Meta.Tokens.InputTokens)
		completion := int(payload.Meta.Tokens.OutputTokens)
		out.Usage = engine.Usage{Prompt: prompt, Completion: completion, Total: prompt + completion}
	}
	return out
}

// cohereStreamEvent is one newline-delimited JSON event from /chat with
// stream=true.
type cohereStreamEvent struct {
	EventType string           `json:"event_type"`
	Text      string           `json:"text"`
	ToolCalls []cohereToolCall `json:"tool_calls"`
	Response  *cohereResponse  `json:"response"`
}

func (c *CohereClient) readStream(ctx context.Context, body io.Reader, model string, onChunk engine.ChunkFunc) (engine.ChatResponse, error) {
	acc := newStreamAccumulator()
	var usage engine.Usage
	slotIndex := 0

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event cohereStreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		switch event.EventType {
		case "text-generation":
			acc.addContent(event.Text)
			if onChunk != nil {
				onChunk(event.Text)
			}
		case "tool-calls-generation":
			for _, tc := range event.ToolCalls {
				args, err := json.Marshal(tc.Parameters)
				if err != nil || len(args) == 0 {
					args = []byte("{}")
				}
				acc.addToolCall(toolCallDelta{
					Index:     slotIndex,
					ID:        fmt.Sprintf("call_%s_%d", tc.Name, slotIndex),
					Name:      tc.Name,
					Arguments: string(args),
				})
				slotIndex++
			}
		case "stream-end":
			if event.Response != nil && event.Response.Meta != nil {
				prompt := int(event.Response.Meta.Tokens.InputTokens)
				completion := int(event.Response.Meta.Tokens.OutputTokens)
				usage = engine.Usage{Prompt: prompt, Completion: completion, Total: prompt + completion}
				if event.Response.FinishReason == "MAX_TOKENS" {
					acc.setFinish(engine.FinishLength)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return cancelledResponse(acc.partialContent()), nil
		}
		return engine.ChatResponse{}, engine.NewProviderError("cohere", model, 0, "", err)
	}

	return acc.response(usage), nil
}

// ListModels queries /models.
func (c *CohereClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, listModelTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models?page_size=100", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, engine.NewProviderError("cohere", "", 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, engine.NewProviderError("cohere", "", resp.StatusCode, "",
			fmt.Errorf("model listing failed: %s", strings.TrimSpace(string(raw))))
	}

	var payload struct {
		Models []struct {
			Name          string   `json:"name"`
			Endpoints     []string `json:"endpoints"`
			ContextLength int      `json:"context_length"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, engine.NewProviderError("cohere", "", resp.StatusCode, "", err)
	}

	var models []ModelInfo
	for _, m := range payload.Models {
		chat := false
		for _, ep := range m.Endpoints {
			if ep == "chat" {
				chat = true
				break
			}
		}
		if !chat {
			continue
		}
		models = append(models, ModelInfo{
			ID:                      m.Name,
			Provider:                "cohere",
			DisplayName:             displayName(m.Name),
			ContextLength:           m.ContextLength,
			SupportsFunctionCalling: c.SupportsFunctionCalling(m.Name),
			Category:                categoryFor(m.Name),
		})
	}
	return models, nil
}

// FallbackModels implements Provider.
func (c *CohereClient) FallbackModels() []ModelInfo {
	ids := fallbackModelIDs["cohere"]
	models := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		models = append(models, ModelInfo{
			ID:                      id,
			Provider:                "cohere",
			DisplayName:             displayName(id),
			ContextLength:           contextLengthFor(id),
			SupportsFunctionCalling: c.SupportsFunctionCalling(id),
			Category:                categoryFor(id),
		})
	}
	return models
}

// Categorize implements Provider.
func (c *CohereClient) Categorize() map[string][]string {
	return categorizeByInfo(c.FallbackModels())
}

// SupportsFunctionCalling implements Provider; only the Command R family
// supports tools.
func (c *CohereClient) SupportsFunctionCalling(model string) bool {
	return strings.Contains(strings.ToLower(model), "command-r")
}

// ValidateAPIKey implements Provider.
func (c *CohereClient) ValidateAPIKey() bool {
	return len(strings.TrimSpace(c.apiKey)) >= 20
}
