package adapters

import (
	"testing"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

func TestDetectFamily(t *testing.T) {
	tests := []struct {
		model string
		want  Family
	}{
		{"llama-3.3-70b-versatile", FamilyLlama70B},
		{"meta-llama/llama-3.1-405b-instruct", FamilyLlama70B},
		{"llama-3.1-8b-instant", FamilyLlamaSmall},
		{"gemma2-9b-it", FamilyLlamaSmall},
		{"claude-3-5-sonnet-20241022", FamilyClaude},
		{"gpt-4o-mini", FamilyGPT4},
		{"gpt-3.5-turbo", FamilyGPT35},
		{"gemini-2.5-flash", FamilyGemini},
		{"qwen/qwen3-32b", FamilyQwen},
		{"deepseek-chat", FamilyDeepSeek},
		{"mistral-large-latest", FamilyMistral},
		{"mixtral-8x7b-32768", FamilyMistral},
		{"command-r-plus", FamilyCommand},
		{"totally-unknown-model", FamilyGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := DetectFamily(tt.model); got != tt.want {
				t.Errorf("DetectFamily(%s) = %s, want %s", tt.model, got, tt.want)
			}
		})
	}
}

func TestAdapterCapabilities(t *testing.T) {
	// Strong families keep native tool messages; weak ones fall back to
	// the text view and demand the strictest prompt.
	claude := ForModel("claude-3-5-sonnet-20241022")
	if !claude.SupportsNativeToolMessages() {
		t.Error("claude supports native tool messages")
	}
	if claude.StrictnessHint() != StrictnessMinimal {
		t.Errorf("claude strictness = %s, want minimal", claude.StrictnessHint())
	}

	small := ForModel("llama-3.1-8b-instant")
	if small.SupportsNativeToolMessages() {
		t.Error("small llama must use the text fallback")
	}
	if small.StrictnessHint() != StrictnessMaximum {
		t.Errorf("small llama strictness = %s, want maximum", small.StrictnessHint())
	}

	command := ForModel("command-r-plus")
	if command.SupportsNativeToolMessages() {
		t.Error("cohere command must use the text fallback")
	}

	generic := ForModel("who-knows-1b")
	if generic.Info().Family != FamilyGeneric {
		t.Errorf("unknown models map to the generic family, got %s", generic.Info().Family)
	}
}

func TestParseNativeToolCallsPassThrough(t *testing.T) {
	a := ForModel("gpt-4o")
	resp := engine.ChatResponse{
		Content: "working on it",
		ToolCalls: []engine.ToolCall{
			{ID: "c1", Name: "read_file", Arguments: `{"file_path":"x"}`},
		},
	}

	parsed := a.Parse(resp)
	if parsed.Repaired {
		t.Error("native tool calls are not a repair")
	}
	if len(parsed.ToolCalls) != 1 || parsed.ToolCalls[0].ID != "c1" {
		t.Errorf("native calls must pass through: %+v", parsed.ToolCalls)
	}
	if parsed.Content != "working on it" {
		t.Errorf("content must be preserved: %q", parsed.Content)
	}
}

func TestParsePlainTextUntouched(t *testing.T) {
	a := ForModel("llama-3.1-8b-instant")
	parsed := a.Parse(engine.ChatResponse{Content: "¡Hola! ¿En qué puedo ayudarte?"})
	if parsed.Repaired || len(parsed.ToolCalls) != 0 {
		t.Errorf("plain chat must not be repaired: %+v", parsed)
	}
	if parsed.Content != "¡Hola! ¿En qué puedo ayudarte?" {
		t.Errorf("content altered: %q", parsed.Content)
	}
}
