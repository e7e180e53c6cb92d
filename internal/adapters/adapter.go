// Package adapters selects a per-model-family adapter that repairs
// malformed tool calls emitted as text, decides whether the provider sees
// native tool messages, and hints how strict the system prompt must be.
package adapters

import (
	"strings"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

// Family identifies a model family. Selection is per model, not per
// provider: the same Groq endpoint serves families with very different
// tool-calling discipline.
type Family string

const (
	FamilyLlama70B   Family = "llama-70b"
	FamilyLlamaSmall Family = "llama-small"
	FamilyClaude     Family = "claude"
	FamilyGPT4       Family = "gpt-4"
	FamilyGPT35      Family = "gpt-3.5"
	FamilyGemini     Family = "gemini"
	FamilyQwen       Family = "qwen"
	FamilyDeepSeek   Family = "deepseek"
	FamilyMistral    Family = "mistral"
	FamilyCommand    Family = "command"
	FamilyGeneric    Family = "generic"
)

// Strictness grades how explicit the tool-usage instructions must be for a
// family. Weak models need the maximum treatment.
type Strictness string

const (
	StrictnessMinimal  Strictness = "minimal"
	StrictnessStandard Strictness = "standard"
	StrictnessDetailed Strictness = "detailed"
	StrictnessMaximum  Strictness = "maximum"
)

// Info describes a family's tool-calling capabilities.
type Info struct {
	Family        Family `json:"family"`
	SupportLevel  string `json:"support_level"`
	SupportsTools bool   `json:"supports_tools"`
}

// Adapter implements engine.ResponseAdapter for one family.
type Adapter struct {
	family             Family
	strictness         Strictness
	nativeToolMessages bool
	supportsTools      bool
	supportLevel       string
	// accionRepair enables the small-Llama "[Acción: …]" pseudo-prefix
	// repair in addition to the common chain.
	accionRepair bool
}

// Parse applies the repair chain: native tool calls are accepted as-is;
// otherwise the assistant text is scanned for fenced tool_code blocks,
// XML-ish wrappers and bare JSON call objects. When a repair path fires the
// consumed text is suppressed from the user-visible content: it was a
// botched tool call, not chat.
func (a *Adapter) Parse(resp engine.ChatResponse) engine.ParsedResponse {
	if len(resp.ToolCalls) > 0 {
		return engine.ParsedResponse{
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
	}

	text := resp.Content
	var calls []engine.ToolCall

	if a.accionRepair {
		if repaired, rest, ok := repairAccionPrefix(text); ok {
			calls = append(calls, repaired...)
			text = rest
		}
	}

	if repaired, rest, ok := repairFencedToolCode(text); ok {
		calls = append(calls, repaired...)
		text = rest
	}
	if repaired, rest, ok := repairXMLWrapped(text); ok {
		calls = append(calls, repaired...)
		text = rest
	}
	if repaired, rest, ok := repairBareJSON(text); ok {
		calls = append(calls, repaired...)
		text = rest
	}

	if len(calls) == 0 {
		return engine.ParsedResponse{Content: resp.Content}
	}
	return engine.ParsedResponse{
		Content:   strings.TrimSpace(text),
		ToolCalls: calls,
		Repaired:  true,
	}
}

// SupportsNativeToolMessages reports whether the provider-bound history may
// carry role=tool messages for this family; when false the conversation is
// rendered through the universal text fallback.
func (a *Adapter) SupportsNativeToolMessages() bool { return a.nativeToolMessages }

// StrictnessHint feeds system-prompt construction.
func (a *Adapter) StrictnessHint() Strictness { return a.strictness }

// Info returns the family capabilities.
func (a *Adapter) Info() Info {
	return Info{
		Family:        a.family,
		SupportLevel:  a.supportLevel,
		SupportsTools: a.supportsTools,
	}
}

// familyTable orders detection rules; first match wins.
var familyTable = []struct {
	match   func(string) bool
	adapter Adapter
}{
	{
		match: func(id string) bool {
			return strings.Contains(id, "llama") &&
				(strings.Contains(id, "70b") || strings.Contains(id, "405b") || strings.Contains(id, "versatile"))
		},
		adapter: Adapter{family: FamilyLlama70B, strictness: StrictnessStandard, nativeToolMessages: true, supportsTools: true, supportLevel: "full"},
	},
	{
		match: func(id string) bool { return strings.Contains(id, "llama") || strings.Contains(id, "gemma") },
		adapter: Adapter{family: FamilyLlamaSmall, strictness: StrictnessMaximum, nativeToolMessages: false, supportsTools: true, supportLevel: "partial", accionRepair: true},
	},
	{
		match:   func(id string) bool { return strings.Contains(id, "claude") },
		adapter: Adapter{family: FamilyClaude, strictness: StrictnessMinimal, nativeToolMessages: true, supportsTools: true, supportLevel: "full"},
	},
	{
		match:   func(id string) bool { return strings.Contains(id, "gpt-4") || strings.Contains(id, "gpt-4o") || strings.HasPrefix(id, "o1") },
		adapter: Adapter{family: FamilyGPT4, strictness: StrictnessMinimal, nativeToolMessages: true, supportsTools: true, supportLevel: "full"},
	},
	{
		match:   func(id string) bool { return strings.Contains(id, "gpt-3.5") },
		adapter: Adapter{family: FamilyGPT35, strictness: StrictnessDetailed, nativeToolMessages: true, supportsTools: true, supportLevel: "partial"},
	},
	{
		match:   func(id string) bool { return strings.Contains(id, "gemini") },
		adapter: Adapter{family: FamilyGemini, strictness: StrictnessStandard, nativeToolMessages: true, supportsTools: true, supportLevel: "full"},
	},
	{
		match:   func(id string) bool { return strings.Contains(id, "qwen") },
		adapter: Adapter{family: FamilyQwen, strictness: StrictnessDetailed, nativeToolMessages: true, supportsTools: true, supportLevel: "partial"},
	},
	{
		match:   func(id string) bool { return strings.Contains(id, "deepseek") },
		adapter: Adapter{family: FamilyDeepSeek, strictness: StrictnessStandard, nativeToolMessages: true, supportsTools: true, supportLevel: "full"},
	},
	{
		match:   func(id string) bool { return strings.Contains(id, "mistral") || strings.Contains(id, "mixtral") || strings.Contains(id, "codestral") },
		adapter: Adapter{family: FamilyMistral, strictness: StrictnessStandard, nativeToolMessages: true, supportsTools: true, supportLevel: "full"},
	},
	{
		match:   func(id string) bool { return strings.Contains(id, "command") },
		adapter: Adapter{family: FamilyCommand, strictness: StrictnessDetailed, nativeToolMessages: false, supportsTools: true, supportLevel: "partial"},
	},
}

var genericAdapter = Adapter{
	family:             FamilyGeneric,
	strictness:         StrictnessDetailed,
	nativeToolMessages: false,
	supportsTools:      true,
	supportLevel:       "unknown",
}

// DetectFamily classifies a model id.
func DetectFamily(model string) Family {
	return ForModel(model).family
}

// ForModel selects the adapter for a model id.
func ForModel(model string) *Adapter {
	id := strings.ToLower(model)
	for _, entry := range familyTable {
		if entry.match(id) {
			adapter := entry.adapter
			return &adapter
		}
	}
	adapter := genericAdapter
	return &adapter
}
