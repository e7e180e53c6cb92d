// Package providers implements the transport adapters that normalise the
// heterogeneous LLM HTTP APIs to the internal engine contract, plus the
// on-disk provider registry and the model metadata cache.
package providers

import (
	"context"
	"time"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

// Timeouts shared by every adapter.
const (
	chatTimeout      = 60 * time.Second
	listModelTimeout = 30 * time.Second
)

// ModelInfo is the cached view of what a provider can serve.
type ModelInfo struct {
	ID                      string `json:"id"`
	Provider                string `json:"provider"`
	DisplayName             string `json:"display_name"`
	ContextLength           int    `json:"context_length"`
	SupportsFunctionCalling bool   `json:"supports_function_calling"`
	Category                string `json:"category"`
	Description             string `json:"description,omitempty"`
	Pricing                 string `json:"pricing,omitempty"`
}

// Provider is the capability interface every adapter implements. There is
// no inheritance hierarchy; each implementation owns its transport.
type Provider interface {
	engine.LLMClient

	Name() string
	ListModels(ctx context.Context) ([]ModelInfo, error)
	// FallbackModels returns the static list used when the live API is
	// unreachable.
	FallbackModels() []ModelInfo
	Categorize() map[string][]string
	SupportsFunctionCalling(model string) bool
	ValidateAPIKey() bool
}

// Config is a named logical endpoint.
type Config struct {
	Name         string            `json:"name"`
	APIKey       string            `json:"api_key"`
	BaseURL      string            `json:"base_url,omitempty"`
	DefaultModel string            `json:"default_model,omitempty"`
	Enabled      bool              `json:"enabled"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// categorizeByInfo groups fallback models by their category field; used by
// adapters whose Categorize has no richer source.
func categorizeByInfo(models []ModelInfo) map[string][]string {
	out := make(map[string][]string)
	for _, m := range models {
		category := m.Category
		if category == "" {
			category = "llm"
		}
		out[category] = append(out[category], m.ID)
	}
	return out
}
