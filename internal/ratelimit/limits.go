// Package ratelimit enforces per-provider, per-model token and request
// budgets with cooperative waits.
package ratelimit

import "strings"

// ModelLimits is the static per (provider, model) budget sheet.
type ModelLimits struct {
	RPM  int    // requests per minute
	TPM  int    // tokens per minute
	RPD  int    // requests per day (0 = unknown)
	TPD  int    // tokens per day (0 = unknown)
	Tier string // "free" or "paid"
}

// Groq free-tier limits, kept deliberately under the published numbers so
// the edges are never hit.
var groqFreeTierLimits = map[string]ModelLimits{
	"llama-3.3-70b-versatile":                      {RPM: 20, TPM: 8_000, RPD: 700, TPD: 70_000, Tier: "free"},
	"llama-3.1-8b-instant":                         {RPM: 20, TPM: 4_000, RPD: 10_000, TPD: 350_000, Tier: "free"},
	"meta-llama/llama-4-maverick-17b-128e-instruct": {RPM: 20, TPM: 4_000, RPD: 700, TPD: 350_000, Tier: "free"},
	"meta-llama/llama-4-scout-17b-16e-instruct":    {RPM: 20, TPM: 20_000, RPD: 700, TPD: 350_000, Tier: "free"},
	"groq/compound":                                {RPM: 20, TPM: 50_000, RPD: 175, Tier: "free"},
	"groq/compound-mini":                           {RPM: 20, TPM: 50_000, RPD: 175, Tier: "free"},
	"qwen/qwen3-32b":                               {RPM: 40, TPM: 4_000, RPD: 700, TPD: 350_000, Tier: "free"},
	"openai/gpt-oss-120b":                          {RPM: 20, TPM: 5_600, RPD: 700, TPD: 140_000, Tier: "free"},
	"openai/gpt-oss-20b":                           {RPM: 20, TPM: 5_600, RPD: 700, TPD: 140_000, Tier: "free"},
	"moonshotai/kimi-k2-instruct":                  {RPM: 40, TPM: 7_000, RPD: 700, TPD: 210_000, Tier: "free"},
	"moonshotai/kimi-k2-instruct-0905":             {RPM: 40, TPM: 7_000, RPD: 700, TPD: 210_000, Tier: "free"},
	"mixtral-8x7b-32768":                           {RPM: 20, TPM: 3_500, RPD: 700, TPD: 70_000, Tier: "free"},
	"gemma2-9b-it":                                 {RPM: 20, TPM: 10_000, RPD: 5_000, TPD: 350_000, Tier: "free"},
}

// Groq paid/developer-tier limits, ~80% of published.
var groqPaidTierLimits = map[string]ModelLimits{
	"llama-3.3-70b-versatile": {RPM: 800, TPM: 240_000, RPD: 400_000, Tier: "paid"},
	"llama-3.1-8b-instant":    {RPM: 800, TPM: 200_000, RPD: 400_000, Tier: "paid"},
	"openai/gpt-oss-20b":      {RPM: 800, TPM: 200_000, RPD: 400_000, Tier: "paid"},
}

// OpenRouter does not publish strict TPM limits for most models.
var (
	openRouterDefault = ModelLimits{RPM: 60, TPM: 100_000, RPD: 1_000, TPD: 1_000_000, Tier: "free"}
	openRouterFree    = ModelLimits{RPM: 30, TPM: 50_000, RPD: 500, TPD: 500_000, Tier: "free"}
)

// defaultLimits is the conservative fallback for unknown provider/model
// combinations.
var defaultLimits = ModelLimits{RPM: 30, TPM: 20_000, RPD: 500, TPD: 100_000, Tier: "free"}

// LimitsFor returns the rate limits for a (provider, model, tier) triple.
// Partial name matching handles model aliases.
func LimitsFor(provider, model, tier string) ModelLimits {
	provider = strings.ToLower(provider)

	if provider == "openrouter" {
		if strings.Contains(strings.ToLower(model), ":free") {
			return openRouterFree
		}
		return openRouterDefault
	}

	if provider != "groq" {
		return defaultLimits
	}

	table := groqFreeTierLimits
	if tier == "paid" {
		table = groqPaidTierLimits
	}

	if limits, ok := table[model]; ok {
		return limits
	}
	for key, limits := range table {
		if strings.Contains(model, key) || strings.Contains(key, model) {
			return limits
		}
	}
	return defaultLimits
}

// BufferTokens returns the safety buffer subtracted from the TPM limit.
// Models with larger budgets can afford a larger buffer.
func BufferTokens(limits ModelLimits) int {
	switch {
	case limits.TPM >= 50_000:
		return 2_000
	case limits.TPM >= 10_000:
		return 1_000
	default:
		return 500
	}
}
