package providers

import (
	"fmt"
)

// openAICompatNames are the providers served by the shared OpenAI-compatible
// client.
var openAICompatNames = map[string]bool{
	"openai":     true,
	"groq":       true,
	"openrouter": true,
	"together":   true,
	"mistral":    true,
	"deepseek":   true,
	"aiml":       true,
	"gemini":     true,
}

// SupportedProviders lists every provider name the factory can build.
func SupportedProviders() []string {
	return []string{
		"groq", "openai", "anthropic", "google", "gemini", "openrouter",
		"aiml", "mistral", "together", "deepseek", "cohere",
	}
}

// New builds the provider adapter for a named configuration.
func New(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s has no API key configured", cfg.Name)
	}

	switch {
	case openAICompatNames[cfg.Name]:
		return NewOpenAICompat(cfg.Name, cfg.APIKey, cfg.BaseURL)
	case cfg.Name == "anthropic":
		return NewAnthropic(cfg.APIKey), nil
	case cfg.Name == "google":
		return NewGoogle(cfg.APIKey, cfg.BaseURL), nil
	case cfg.Name == "cohere":
		return NewCohere(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: %v)", cfg.Name, SupportedProviders())
	}
}

// DefaultModelFor returns the default model for a provider name.
func DefaultModelFor(name string) string {
	if profile, ok := openAIProfiles[name]; ok {
		return profile.defaultModel
	}
	switch name {
	case "anthropic":
		return "claude-3-5-sonnet-20241022"
	case "google":
		return "gemini-2.5-flash"
	case "cohere":
		return "command-r-plus"
	}
	return ""
}
