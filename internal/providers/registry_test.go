package providers

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestRegistrySaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")

	reg := &Registry{Providers: make(map[string]Config), path: path}
	reg.Upsert(Config{
		Name:         "groq",
		APIKey:       "gsk_test",
		DefaultModel: "llama-3.3-70b-versatile",
		Enabled:      true,
	})
	reg.Upsert(Config{Name: "anthropic", APIKey: "sk-ant-test", Enabled: true})
	if err := reg.SetActive("groq"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	if err := reg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("providers.json permissions = %o, want 0600", perm)
		}
	}

	loaded, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if loaded.Active != "groq" {
		t.Errorf("active = %q, want groq", loaded.Active)
	}
	for _, name := range []string{"groq", "anthropic"} {
		if _, ok := loaded.Providers[name]; !ok {
			t.Errorf("provider %s lost in round trip", name)
		}
	}
	if loaded.Providers["groq"].DefaultModel != "llama-3.3-70b-versatile" {
		t.Errorf("round trip lost default model: %+v", loaded.Providers["groq"])
	}
}

func TestRegistryActiveMustBeConfigured(t *testing.T) {
	reg := &Registry{Providers: make(map[string]Config)}
	if err := reg.SetActive("nope"); err == nil {
		t.Error("SetActive must reject unknown providers")
	}

	reg.Upsert(Config{Name: "openai", APIKey: "sk-x"})
	if err := reg.SetActive("openai"); err != nil {
		t.Errorf("SetActive failed: %v", err)
	}

	reg.Remove("openai")
	if reg.Active != "" {
		t.Error("removing the active provider must clear the selection")
	}
}

func TestRegistryLoadDropsDanglingActive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	if err := os.WriteFile(path, []byte(`{"active":"ghost","providers":{}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if reg.Active != "" {
		t.Errorf("dangling active must be cleared, got %q", reg.Active)
	}
}

func TestRegistryEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")

	reg := &Registry{Providers: make(map[string]Config), path: path}
	reg.Upsert(Config{Name: "groq", APIKey: "gsk_stored"})
	if err := reg.Save(); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GROQ_API_KEY", "gsk_from_env")
	loaded, err := LoadRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Providers["groq"].APIKey != "gsk_from_env" {
		t.Errorf("env var must override the stored key, got %q", loaded.Providers["groq"].APIKey)
	}
}

func TestRegistryEnvEnablesUnconfiguredProvider(t *testing.T) {
	t.Setenv("MISTRAL_API_KEY", "mk_from_env")

	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "providers.json"))
	if err != nil {
		t.Fatal(err)
	}
	cfg, ok := reg.Providers["mistral"]
	if !ok {
		t.Fatal("a key in the environment must enable the provider")
	}
	if cfg.APIKey != "mk_from_env" || !cfg.Enabled {
		t.Errorf("unexpected provider config: %+v", cfg)
	}
}

func TestFactoryKnowsEveryProvider(t *testing.T) {
	for _, name := range SupportedProviders() {
		cfg := Config{Name: name, APIKey: "test-key-long-enough-0123456789"}
		p, err := New(cfg)
		if err != nil {
			t.Errorf("New(%s) failed: %v", name, err)
			continue
		}
		if p.Name() != name {
			t.Errorf("provider name = %s, want %s", p.Name(), name)
		}
		if len(p.FallbackModels()) == 0 {
			t.Errorf("%s must ship fallback models", name)
		}
		if len(p.Categorize()) == 0 {
			t.Errorf("%s must categorize its models", name)
		}
	}

	if _, err := New(Config{Name: "unknown", APIKey: "x"}); err == nil {
		t.Error("unknown providers must be rejected")
	}
}

func TestValidateAPIKeyShapes(t *testing.T) {
	tests := []struct {
		provider string
		key      string
		want     bool
	}{
		{"groq", "gsk_" + pad(40), true},
		{"groq", "sk-" + pad(40), false},
		{"openai", "sk-" + pad(45), true},
		{"openrouter", "sk-or-" + pad(40), true},
		{"openrouter", "sk-" + pad(40), false},
		{"gemini", "AIza" + pad(30), true},
		{"mistral", pad(25), true},
		{"mistral", "short", false},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.key[:4], func(t *testing.T) {
			p, err := NewOpenAICompat(tt.provider, tt.key, "")
			if err != nil {
				t.Fatal(err)
			}
			if got := p.ValidateAPIKey(); got != tt.want {
				t.Errorf("ValidateAPIKey(%s) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func pad(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
