package providers

import (
	"context"
	"strings"
	"sync"
)

// fallbackModelIDs are the static offline lists per provider, used when
// the live model listing fails.
var fallbackModelIDs = map[string][]string{
	"openai": {
		"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo",
		"o1-mini", "text-embedding-3-small", "whisper-1",
	},
	"groq": {
		"llama-3.3-70b-versatile", "llama-3.1-8b-instant",
		"meta-llama/llama-4-scout-17b-16e-instruct", "qwen/qwen3-32b",
		"moonshotai/kimi-k2-instruct", "mixtral-8x7b-32768",
		"gemma2-9b-it", "whisper-large-v3",
	},
	"openrouter": {
		"meta-llama/llama-3.1-70b-instruct", "anthropic/claude-3.5-sonnet",
		"google/gemini-2.0-flash-001", "deepseek/deepseek-chat",
		"mistralai/mistral-large", "qwen/qwen-2.5-72b-instruct",
	},
	"together": {
		"meta-llama/Llama-3.3-70B-Instruct-Turbo",
		"meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo",
		"Qwen/Qwen2.5-72B-Instruct-Turbo", "mistralai/Mixtral-8x7B-Instruct-v0.1",
	},
	"mistral": {
		"mistral-large-latest", "mistral-small-latest", "codestral-latest",
		"open-mistral-nemo",
	},
	"deepseek": {
		"deepseek-chat", "deepseek-reasoner",
	},
	"aiml": {
		"gpt-4o-mini", "gpt-4o", "claude-3-5-sonnet-20241022",
		"meta-llama/Llama-3.3-70B-Instruct-Turbo",
	},
	"gemini": {
		"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash",
		"gemini-1.5-flash", "text-embedding-004",
	},
	"anthropic": {
		"claude-sonnet-4-20250514", "claude-3-7-sonnet-20250219",
		"claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022",
	},
	"cohere": {
		"command-r-plus", "command-r", "command-light", "embed-english-v3.0",
	},
	"google": {
		"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash",
		"gemini-1.5-pro", "gemini-1.5-flash",
	},
}

// displayName prettifies a model id: the part after the last slash, dashes
// replaced with spaces, words capitalised.
func displayName(id string) string {
	name := id
	if idx := strings.LastIndex(name, "/"); idx != -1 {
		name = name[idx+1:]
	}
	words := strings.Split(strings.ReplaceAll(name, "-", " "), " ")
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// contextLengthFor guesses the context window from the model id. Providers
// rarely publish it through /models, so these are the documented values.
func contextLengthFor(id string) int {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "gemini-2") || strings.Contains(lower, "gemini-1.5"):
		return 1_000_000
	case strings.Contains(lower, "claude"):
		return 200_000
	case strings.Contains(lower, "gpt-4o") || strings.Contains(lower, "gpt-4-turbo"):
		return 128_000
	case strings.Contains(lower, "deepseek"):
		return 64_000
	case strings.Contains(lower, "llama-3") || strings.Contains(lower, "llama-4"):
		return 128_000
	case strings.Contains(lower, "mixtral-8x7b"):
		return 32_768
	case strings.Contains(lower, "command-r"):
		return 128_000
	case strings.Contains(lower, "gpt-3.5"):
		return 16_385
	default:
		return 32_768
	}
}

// categoryFor buckets a model id into a coarse category.
func categoryFor(id string) string {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "whisper"):
		return "whisper"
	case strings.Contains(lower, "embed"):
		return "embedding"
	case strings.Contains(lower, "tts") || strings.Contains(lower, "audio"):
		return "tts"
	case strings.Contains(lower, "vision") || strings.Contains(lower, "llava"):
		return "vision"
	case strings.Contains(lower, "guard"):
		return "moderation"
	default:
		return "llm"
	}
}

// supportsFunctionCalling reports whether a model family is known to
// support native tool calling.
func supportsFunctionCalling(id string) bool {
	lower := strings.ToLower(id)
	switch categoryFor(id) {
	case "whisper", "embedding", "tts", "moderation":
		return false
	}
	// Known exceptions among chat models.
	if strings.Contains(lower, "gemma-7b") || strings.Contains(lower, "allam") {
		return false
	}
	return true
}

// ModelRegistry caches ModelInfo per provider, refreshed on demand.
// Listing failures degrade to the provider's static fallback list.
type ModelRegistry struct {
	mu    sync.Mutex
	cache map[string][]ModelInfo
}

// NewModelRegistry creates an empty cache.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{cache: make(map[string][]ModelInfo)}
}

// Models returns the cached list for a provider, refreshing it on first
// access.
func (r *ModelRegistry) Models(ctx context.Context, p Provider) []ModelInfo {
	r.mu.Lock()
	if cached, ok := r.cache[p.Name()]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()
	return r.Refresh(ctx, p)
}

// Refresh re-queries the provider, falling back to the static list when
// the live API is unreachable.
func (r *ModelRegistry) Refresh(ctx context.Context, p Provider) []ModelInfo {
	models, err := p.ListModels(ctx)
	if err != nil || len(models) == 0 {
		models = p.FallbackModels()
	}

	r.mu.Lock()
	r.cache[p.Name()] = models
	r.mu.Unlock()
	return models
}

// Invalidate drops the cached list for a provider.
func (r *ModelRegistry) Invalidate(provider string) {
	r.mu.Lock()
	delete(r.cache, provider)
	r.mu.Unlock()
}
