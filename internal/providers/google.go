package providers

import (
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

const googleBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GoogleClient implements Provider over the native Gemini generateContent
// API. Gemini's OpenAI-compatibility endpoint is served separately by the
// "gemini" profile in openai.go.
type GoogleClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewGoogle creates a native Gemini provider adapter.
func NewGoogle(apiKey, baseURL string) *GoogleClient {
	if baseURL == "" {
		baseURL = googleBaseURL
	}
	return &GoogleClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: chatTimeout},
	}
}

// Name implements Provider.
func (c *GoogleClient) Name() string { return "google" }

// Gemini wire types.

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResp `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Tools             []geminiTools   `json:"tools,omitempty"`
	ToolConfig        *geminiToolCfg  `json:"toolConfig,omitempty"`
	GenerationConfig  *geminiGenCfg   `json:"generationConfig,omitempty"`
}

type geminiTools struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiToolCfg struct {
	FunctionCallingConfig struct {
		Mode                 string   `json:"mode"`
		AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
	} `json:"functionCallingConfig"`
}

type geminiGenCfg struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// buildRequest maps roles assistant→model and system→systemInstruction,
// tools into functionDeclarations, and tool results into functionResponse
// parts.
func (c *GoogleClient) buildRequest(req engine.ChatRequest) geminiRequest {
	out := geminiRequest{}
	var systemText []string
	toolNames := make(map[string]string) // tool_call_id -> name, for responses

	for _, msg := range req.Messages {
		switch msg.Role {
		case engine.RoleSystem:
			systemText = append(systemText, msg.Content)
		case engine.RoleUser:
			out.Contents = append(out.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		case engine.RoleAssistant:
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				toolNames[tc.ID] = tc.Name
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: tc.Name,
					Args: json.RawMessage(tc.Arguments),
				}})
			}
			if len(parts) == 0 {
				parts = []geminiPart{{Text: " "}}
			}
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: parts})
		case engine.RoleTool:
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			name := msg.ToolName
			if name == "" {
				name = toolNames[msg.ToolCallID]
			}
			out.Contents = append(out.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &geminiFunctionResp{
					Name:     name,
					Response: response,
				}}},
			})
		}
	}

	if len(systemText) > 0 {
		out.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: strings.Join(systemText, "\n\n")}},
		}
	}

	if len(req.Tools) > 0 && req.ToolChoice.Mode != engine.ToolChoiceNone {
		var decls []geminiFunctionDecl
		for _, ts := range req.Tools {
			var params map[string]any
			_ = json.Unmarshal([]byte(ts.JSONSchema), &params)
			decls = append(decls, geminiFunctionDecl{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  params,
			})
		}
		out.Tools = []geminiTools{{FunctionDeclarations: decls}}

		cfg := &geminiToolCfg{}
		switch req.ToolChoice.Mode {
		case engine.ToolChoiceRequired:
			cfg.FunctionCallingConfig.Mode = "ANY"
		case engine.ToolChoiceNamed:
			cfg.FunctionCallingConfig.Mode = "ANY"
			cfg.FunctionCallingConfig.AllowedFunctionNames = []string{req.ToolChoice.Name}
		default:
			cfg.FunctionCallingConfig.Mode = "AUTO"
		}
		out.ToolConfig = cfg
	}

	genCfg := &geminiGenCfg{}
	if req.Temperature > 0 {
		temp := req.Temperature
		genCfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = req.MaxTokens
	}
	out.GenerationConfig = genCfg

	return out
}

// ChatCompletion implements engine.LLMClient.
func (c *GoogleClient) ChatCompletion(ctx context.Context, req engine.ChatRequest, onChunk engine.ChunkFunc) (engine.ChatResponse, error) {
	wireReq := c.buildRequest(req)
	body, err := json.Marshal(wireReq)
	if err != nil {
		return engine.ChatResponse{}, &engine.ProviderError{
			Kind: engine.KindProtocol, Provider: "google", Model: req.Model, Err: err,
		}
	}

	verb := "generateContent"
	if req.Stream {
		verb = "streamGenerateContent"
	}
	// Google authenticates with a key query parameter.
	endpoint := fmt.Sprintf("%s/models/%s:%s?key=%s", c.baseURL, req.Model, verb, c.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return engine.ChatResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return cancelledResponse(""), nil
		}
		return engine.ChatResponse{}, engine.NewProviderError("google", req.Model, 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return engine.ChatResponse{}, engine.NewProviderError("google", req.Model,
			resp.StatusCode, resp.Header.Get("Retry-After"),
			fmt.Errorf("request failed: %s", strings.TrimSpace(string(raw))))
	}

	if req.Stream {
		return c.readStream(ctx, resp.Body, req.Model, onChunk)
	}

	var payload geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return engine.ChatResponse{}, engine.NewProviderError("google", req.Model, resp.StatusCode, "", err)
	}
	return c.projectResponse(payload, req.Model)
}

// readStream consumes the streaming endpoint, which emits a JSON array of
// response objects rather than SSE lines.
func (c *GoogleClient) readStream(ctx context.Context, body io.Reader, model string, onChunk engine.ChunkFunc) (engine.ChatResponse, error) {
	acc := newStreamAccumulator()
	var usage engine.Usage
	slotIndex := 0

	dec := json.NewDecoder(body)
	if _, err := dec.Token(); err != nil { // opening '['
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return cancelledResponse(acc.partialContent()), nil
		}
		return engine.ChatResponse{}, engine.NewProviderError("google", model, 0, "", err)
	}

	for dec.More() {
		var payload geminiResponse
		if err := dec.Decode(&payload); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return cancelledResponse(acc.partialContent()), nil
			}
			return engine.ChatResponse{}, engine.NewProviderError("google", model, 0, "", err)
		}
		if payload.Error != nil {
			return engine.ChatResponse{}, engine.NewProviderError("google", model,
				payload.Error.Code, "", fmt.Errorf("%s", payload.Error.Message))
		}
		if len(payload.Candidates) == 0 {
			continue
		}
		candidate := payload.Candidates[0]

		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				acc.addContent(part.Text)
				if onChunk != nil {
					onChunk(part.Text)
				}
			}
			if part.FunctionCall != nil {
				args := string(part.FunctionCall.Args)
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				acc.addToolCall(toolCallDelta{
					Index:     slotIndex,
					ID:        fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, slotIndex),
					Name:      part.FunctionCall.Name,
					Arguments: args,
				})
				slotIndex++
			}
		}
		if candidate.FinishReason == "MAX_TOKENS" {
			acc.setFinish(engine.FinishLength)
		}
		if payload.UsageMetadata != nil {
			usage = engine.Usage{
				Prompt:     payload.UsageMetadata.PromptTokenCount,
				Completion: payload.UsageMetadata.CandidatesTokenCount,
				Total:      payload.UsageMetadata.TotalTokenCount,
			}
		}
	}

	return acc.response(usage), nil
}

func (c *GoogleClient) projectResponse(payload geminiResponse, model string) (engine.ChatResponse, error) {
	if payload.Error != nil {
		return engine.ChatResponse{}, engine.NewProviderError("google", model,
			payload.Error.Code, "", fmt.Errorf("%s", payload.Error.Message))
	}
	if len(payload.Candidates) == 0 {
		return engine.ChatResponse{}, &engine.ProviderError{
			Kind: engine.KindProtocol, Provider: "google", Model: model,
			Err: fmt.Errorf("response carried no candidates"),
		}
	}

	candidate := payload.Candidates[0]
	var content string
	var calls []engine.ToolCall

	for i, part := range candidate.Content.Parts {
		if part.Text != "" {
			content += part.Text
		}
		if part.FunctionCall != nil {
			args := string(part.FunctionCall.Args)
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			calls = append(calls, engine.ToolCall{
				ID:        fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, i),
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}

	finish := engine.FinishStop
	if len(calls) > 0 {
		finish = engine.FinishToolCalls
	} else if candidate.FinishReason == "MAX_TOKENS" {
		finish = engine.FinishLength
	}

	out := engine.ChatResponse{Content: content, ToolCalls: calls, FinishReason: finish}
	if payload.UsageMetadata != nil {
		out.Usage = engine.Usage{
			Prompt:     payload.UsageMetadata.PromptTokenCount,
			Completion: payload.UsageMetadata.CandidatesTokenCount,
			Total:      payload.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

// ListModels queries the v1beta models listing.
func (c *GoogleClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, listModelTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/models?key=%s", c.baseURL, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, engine.NewProviderError("google", "", 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, engine.NewProviderError("google", "", resp.StatusCode, "",
			fmt.Errorf("model listing failed: %s", strings.TrimSpace(string(raw))))
	}

	var payload struct {
		Models []struct {
			Name                       string   `json:"name"` // "models/gemini-..."
			DisplayName                string   `json:"displayName"`
			Description                string   `json:"description"`
			InputTokenLimit            int      `json:"inputTokenLimit"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, engine.NewProviderError("google", "", resp.StatusCode, "", err)
	}

	var models []ModelInfo
	for _, m := range payload.Models {
		generative := false
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				generative = true
				break
			}
		}
		if !generative {
			continue
		}
		id := strings.TrimPrefix(m.Name, "models/")
		models = append(models, ModelInfo{
			ID:                      id,
			Provider:                "google",
			DisplayName:             m.DisplayName,
			ContextLength:           m.InputTokenLimit,
			SupportsFunctionCalling: c.SupportsFunctionCalling(id),
			Category:                categoryFor(id),
			Description:             m.Description,
		})
	}
	return models, nil
}

// FallbackModels implements Provider.
func (c *GoogleClient) FallbackModels() []ModelInfo {
	ids := fallbackModelIDs["google"]
	models := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		models = append(models, ModelInfo{
			ID:                      id,
			Provider:                "google",
			DisplayName:             displayName(id),
			ContextLength:           contextLengthFor(id),
			SupportsFunctionCalling: true,
			Category:                "llm",
		})
	}
	return models
}

// Categorize implements Provider.
func (c *GoogleClient) Categorize() map[string][]string {
	return categorizeByInfo(c.FallbackModels())
}

// SupportsFunctionCalling implements Provider.
func (c *GoogleClient) SupportsFunctionCalling(model string) bool {
	return !strings.Contains(strings.ToLower(model), "embedding")
}

// ValidateAPIKey implements Provider.
func (c *GoogleClient) ValidateAPIKey() bool {
	key := strings.TrimSpace(c.apiKey)
	return strings.HasPrefix(key, "AIza") && len(key) >= 30
}
