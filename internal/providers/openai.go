package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

// openAIProfile describes one OpenAI-compatible endpoint. A single client
// implementation serves every provider in this family; only the base URL,
// headers and key shape differ.
type openAIProfile struct {
	name         string
	baseURL      string
	defaultModel string
	extraHeaders map[string]string
	keyPrefix    string
	minKeyLen    int
}

var openAIProfiles = map[string]openAIProfile{
	"openai": {
		name:         "openai",
		baseURL:      "https://api.openai.com/v1",
		defaultModel: "gpt-4o-mini",
		keyPrefix:    "sk-",
		minKeyLen:    40,
	},
	"groq": {
		name:         "groq",
		baseURL:      "https://api.groq.com/openai/v1",
		defaultModel: "llama-3.3-70b-versatile",
		keyPrefix:    "gsk_",
		minKeyLen:    40,
	},
	"openrouter": {
		name:         "openrouter",
		baseURL:      "https://openrouter.ai/api/v1",
		defaultModel: "meta-llama/llama-3.1-70b-instruct",
		keyPrefix:    "sk-or-",
		minKeyLen:    40,
		extraHeaders: map[string]string{
			"HTTP-Referer": "https://github.com/cryptohousestar/iabuilder",
			"X-Title":      "IABuilder",
		},
	},
	"together": {
		name:         "together",
		baseURL:      "https://api.together.xyz/v1",
		defaultModel: "meta-llama/Llama-3.3-70B-Instruct-Turbo",
		minKeyLen:    40,
	},
	"mistral": {
		name:         "mistral",
		baseURL:      "https://api.mistral.ai/v1",
		defaultModel: "mistral-large-latest",
		minKeyLen:    20,
	},
	"deepseek": {
		name:         "deepseek",
		baseURL:      "https://api.deepseek.com/v1",
		defaultModel: "deepseek-chat",
		keyPrefix:    "sk-",
		minKeyLen:    30,
	},
	"aiml": {
		name:         "aiml",
		baseURL:      "https://api.aimlapi.com/v1",
		defaultModel: "gpt-4o-mini",
		minKeyLen:    20,
	},
	// Gemini's OpenAI-compatibility endpoint; the native API lives in
	// google.go.
	"gemini": {
		name:         "gemini",
		baseURL:      "https://generativelanguage.googleapis.com/v1beta/openai",
		defaultModel: "gemini-2.5-flash",
		keyPrefix:    "AIza",
		minKeyLen:    30,
	},
}

// headerTransport injects provider-specific headers (e.g. OpenRouter's
// HTTP-Referer and X-Title) into every request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// OpenAICompatClient implements Provider over the OpenAI chat-completions
// wire format. It serves OpenAI, Groq, OpenRouter, Together, Mistral,
// DeepSeek, AIML and Gemini's compatibility endpoint.
type OpenAICompatClient struct {
	profile openAIProfile
	client  *openai.Client
	apiKey  string
}

// NewOpenAICompat creates a client for the named profile. baseURL overrides
// the profile default when non-empty (local gateways, proxies).
func NewOpenAICompat(name, apiKey, baseURL string) (*OpenAICompatClient, error) {
	profile, ok := openAIProfiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown OpenAI-compatible provider: %s", name)
	}
	if baseURL != "" {
		profile.baseURL = baseURL
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = profile.baseURL
	httpClient := &http.Client{Timeout: chatTimeout}
	if len(profile.extraHeaders) > 0 {
		httpClient.Transport = headerTransport{headers: profile.extraHeaders}
	}
	config.HTTPClient = httpClient

	return &OpenAICompatClient{
		profile: profile,
		client:  openai.NewClientWithConfig(config),
		apiKey:  apiKey,
	}, nil
}

// Name implements Provider.
func (c *OpenAICompatClient) Name() string { return c.profile.name }

// DefaultModel returns the profile's default model id.
func (c *OpenAICompatClient) DefaultModel() string { return c.profile.defaultModel }

// buildRequest converts the internal request into the OpenAI wire shape.
func (c *OpenAICompatClient) buildRequest(req engine.ChatRequest) (openai.ChatCompletionRequest, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))

	// Providers reject tool messages that do not follow an assistant
	// message with tool_calls, so track that pairing while converting.
	var prevAssistantHadToolCalls bool

	for _, msg := range req.Messages {
		switch msg.Role {
		case engine.RoleSystem:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
			prevAssistantHadToolCalls = false
		case engine.RoleUser:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
			prevAssistantHadToolCalls = false
		case engine.RoleAssistant:
			// Some gateways serialise empty content as null and reject it;
			// a single space is accepted and semantically equivalent.
			content := msg.Content
			if content == "" && len(msg.ToolCalls) > 0 {
				content = " "
			}
			var toolCalls []openai.ToolCall
			for _, tc := range msg.ToolCalls {
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: toolCalls,
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
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.ToolCallID,
				Content:    content,
			})
		}
	}

	var tools []openai.Tool
	for _, ts := range req.Tools {
		var schemaObj map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schemaObj); err != nil {
			return openai.ChatCompletionRequest{}, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  schemaObj,
			},
		})
	}

	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if len(tools) > 0 {
		out.Tools = tools
		switch req.ToolChoice.Mode {
		case engine.ToolChoiceNone:
			out.ToolChoice = "none"
		case engine.ToolChoiceRequired:
			out.ToolChoice = "required"
		case engine.ToolChoiceNamed:
			out.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: req.ToolChoice.Name},
			}
		default:
			out.ToolChoice = "auto"
		}
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		out.Temperature = &temp
	}
	return out, nil
}

// ChatCompletion implements engine.LLMClient.
func (c *OpenAICompatClient) ChatCompletion(ctx context.Context, req engine.ChatRequest, onChunk engine.ChunkFunc) (engine.ChatResponse, error) {
	wireReq, err := c.buildRequest(req)
	if err != nil {
		return engine.ChatResponse{}, &engine.ProviderError{
			Kind: engine.KindProtocol, Provider: c.profile.name, Model: req.Model, Err: err,
		}
	}

	if req.Stream {
		return c.streamCompletion(ctx, wireReq, req.Model, onChunk)
	}

	resp, err := c.client.CreateChatCompletion(ctx, wireReq)
	if err != nil {
		return engine.ChatResponse{}, c.wrapError(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return engine.ChatResponse{}, &engine.ProviderError{
			Kind: engine.KindProtocol, Provider: c.profile.name, Model: req.Model,
			Err: fmt.Errorf("response carried no choices"),
		}
	}

	choice := resp.Choices[0]

	var calls []engine.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		calls = append(calls, engine.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	finish := engine.FinishStop
	if len(calls) > 0 {
		finish = engine.FinishToolCalls
	} else if choice.FinishReason == openai.FinishReasonLength {
		finish = engine.FinishLength
	}

	return engine.ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    calls,
		FinishReason: finish,
		Usage: engine.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
	}, nil
}

// streamCompletion consumes the SSE stream, invoking onChunk per content
// delta and merging tool-call fragments by index slot.
func (c *OpenAICompatClient) streamCompletion(ctx context.Context, wireReq openai.ChatCompletionRequest, model string, onChunk engine.ChunkFunc) (engine.ChatResponse, error) {
	wireReq.Stream = true
	wireReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.client.CreateChatCompletionStream(ctx, wireReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return cancelledResponse(""), nil
		}
		return engine.ChatResponse{}, c.wrapError(model, err)
	}
	defer stream.Close()

	acc := newStreamAccumulator()
	var usage engine.Usage
	fallbackIndex := 0

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "EOF") {
				return acc.response(usage), nil
			}
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				// User interrupt: commit the partial content, drop any
				// half-assembled tool calls.
				return cancelledResponse(acc.partialContent()), nil
			}
			return engine.ChatResponse{}, c.wrapError(model, err)
		}

		if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
			usage = engine.Usage{
				Prompt:     chunk.Usage.PromptTokens,
				Completion: chunk.Usage.CompletionTokens,
				Total:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			acc.addContent(choice.Delta.Content)
			if onChunk != nil {
				onChunk(choice.Delta.Content)
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := fallbackIndex
			if tc.Index != nil {
				index = *tc.Index
			}
			fallbackIndex = index
			acc.addToolCall(toolCallDelta{
				Index:     index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}

		switch choice.FinishReason {
		case openai.FinishReasonStop:
			acc.setFinish(engine.FinishStop)
		case openai.FinishReasonLength:
			acc.setFinish(engine.FinishLength)
		case openai.FinishReasonToolCalls:
			acc.setFinish(engine.FinishToolCalls)
		}
	}
}

func cancelledResponse(partial string) engine.ChatResponse {
	content := partial
	if content == "" {
		content = engine.CancelledMessage
	}
	return engine.ChatResponse{
		Content:      content,
		FinishReason: engine.FinishCancelled,
	}
}

// wrapError classifies an SDK error into the normalized kinds.
func (c *OpenAICompatClient) wrapError(model string, err error) error {
	status, retryAfter := extractErrorMetadata(err)
	return engine.NewProviderError(c.profile.name, model, status, retryAfter, err)
}

// extractErrorMetadata recovers the HTTP status and Retry-After value from
// an SDK error message.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	errStr := err.Error()
	var status int
	switch {
	case strings.Contains(errStr, "429"):
		status = http.StatusTooManyRequests
	case strings.Contains(errStr, "500"):
		status = http.StatusInternalServerError
	case strings.Contains(errStr, "502"):
		status = http.StatusBadGateway
	case strings.Contains(errStr, "503"):
		status = http.StatusServiceUnavailable
	case strings.Contains(errStr, "504"):
		status = http.StatusGatewayTimeout
	case strings.Contains(errStr, "401"):
		status = http.StatusUnauthorized
	case strings.Contains(errStr, "403"):
		status = http.StatusForbidden
	case strings.Contains(errStr, "400"):
		status = http.StatusBadRequest
	case strings.Contains(errStr, "402"):
		status = http.StatusPaymentRequired
	}

	var retryAfter string
	lower := strings.ToLower(errStr)
	if idx := strings.Index(lower, "retry-after"); idx != -1 {
		parts := strings.Fields(errStr[idx+len("retry-after"):])
		if len(parts) > 0 {
			retryAfter = strings.Trim(parts[0], ":; ")
		}
	}
	return status, retryAfter
}

// ListModels queries the live /models endpoint.
func (c *OpenAICompatClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, listModelTimeout)
	defer cancel()

	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, c.wrapError("", err)
	}

	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{
			ID:                      m.ID,
			Provider:                c.profile.name,
			DisplayName:             displayName(m.ID),
			ContextLength:           contextLengthFor(m.ID),
			SupportsFunctionCalling: c.SupportsFunctionCalling(m.ID),
			Category:                categoryFor(m.ID),
		})
	}
	return models, nil
}

// FallbackModels implements Provider with a static per-profile list.
func (c *OpenAICompatClient) FallbackModels() []ModelInfo {
	ids, ok := fallbackModelIDs[c.profile.name]
	if !ok {
		ids = []string{c.profile.defaultModel}
	}
	models := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		models = append(models, ModelInfo{
			ID:                      id,
			Provider:                c.profile.name,
			DisplayName:             displayName(id),
			ContextLength:           contextLengthFor(id),
			SupportsFunctionCalling: c.SupportsFunctionCalling(id),
			Category:                categoryFor(id),
		})
	}
	return models
}

// Categorize implements Provider.
func (c *OpenAICompatClient) Categorize() map[string][]string {
	return categorizeByInfo(c.FallbackModels())
}

// SupportsFunctionCalling implements Provider.
func (c *OpenAICompatClient) SupportsFunctionCalling(model string) bool {
	return supportsFunctionCalling(model)
}

// ValidateAPIKey checks the key shape against the profile's prefix and
// length floor. It does not hit the network.
func (c *OpenAICompatClient) ValidateAPIKey() bool {
	key := strings.TrimSpace(c.apiKey)
	if key == "" {
		return false
	}
	if c.profile.keyPrefix != "" && !strings.HasPrefix(key, c.profile.keyPrefix) {
		return false
	}
	return len(key) >= c.profile.minKeyLen
}
