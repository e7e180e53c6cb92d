package ratelimit

import "testing"

func TestLimitsFor(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		tier     string
		wantTPM  int
		wantRPM  int
	}{
		{"groq known model", "groq", "llama-3.3-70b-versatile", "free", 8_000, 20},
		{"groq paid tier", "groq", "llama-3.3-70b-versatile", "paid", 240_000, 800},
		{"groq partial match", "groq", "llama-3.1-8b-instant-v2", "free", 4_000, 20},
		{"groq unknown model", "groq", "totally-new-model", "free", 20_000, 30},
		{"openrouter default", "openrouter", "anthropic/claude-3.5-sonnet", "free", 100_000, 60},
		{"openrouter free suffix", "openrouter", "meta-llama/llama-3.1-8b:free", "free", 50_000, 30},
		{"other provider default", "anthropic", "claude-3-5-sonnet-20241022", "free", 20_000, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := LimitsFor(tt.provider, tt.model, tt.tier)
			if limits.TPM != tt.wantTPM {
				t.Errorf("TPM = %d, want %d", limits.TPM, tt.wantTPM)
			}
			if limits.RPM != tt.wantRPM {
				t.Errorf("RPM = %d, want %d", limits.RPM, tt.wantRPM)
			}
		})
	}
}

func TestBufferTokens(t *testing.T) {
	tests := []struct {
		tpm  int
		want int
	}{
		{50_000, 2_000},
		{100_000, 2_000},
		{10_000, 1_000},
		{20_000, 1_000},
		{8_000, 500},
		{4_000, 500},
	}
	for _, tt := range tests {
		if got := BufferTokens(ModelLimits{TPM: tt.tpm}); got != tt.want {
			t.Errorf("BufferTokens(tpm=%d) = %d, want %d", tt.tpm, got, tt.want)
		}
	}
}
