package providers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Registry stores the named provider configurations on disk. Only one
// provider is active at a time; if Active is set it always names a key in
// Providers.
type Registry struct {
	Active    string            `json:"active,omitempty"`
	Providers map[string]Config `json:"providers"`

	path string
}

// RegistryPath returns the default providers.json location.
func RegistryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".iabuilder", "providers.json"), nil
}

// LoadRegistry reads the registry from path, creating an empty one when the
// file does not exist. Environment variables of the form <NAME>_API_KEY
// override the stored key for the matching provider.
func LoadRegistry(path string) (*Registry, error) {
	reg := &Registry{
		Providers: make(map[string]Config),
		path:      path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		reg.applyEnvOverrides()
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read provider registry: %w", err)
	}

	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("failed to parse provider registry: %w", err)
	}
	if reg.Providers == nil {
		reg.Providers = make(map[string]Config)
	}
	if reg.Active != "" {
		if _, ok := reg.Providers[reg.Active]; !ok {
			reg.Active = ""
		}
	}

	reg.applyEnvOverrides()
	return reg, nil
}

// applyEnvOverrides replaces stored keys with <NAME>_API_KEY values.
func (r *Registry) applyEnvOverrides() {
	for name, cfg := range r.Providers {
		envVar := strings.ToUpper(name) + "_API_KEY"
		if key := os.Getenv(envVar); key != "" {
			cfg.APIKey = key
			r.Providers[name] = cfg
		}
	}
	// A key in the environment enables a provider even before it has been
	// saved to disk.
	for _, name := range SupportedProviders() {
		if _, exists := r.Providers[name]; exists {
			continue
		}
		envVar := strings.ToUpper(name) + "_API_KEY"
		if key := os.Getenv(envVar); key != "" {
			r.Providers[name] = Config{
				Name:         name,
				APIKey:       key,
				DefaultModel: DefaultModelFor(name),
				Enabled:      true,
			}
		}
	}
}

// Save writes the registry with 0700 on the directory and 0600 on the file.
func (r *Registry) Save() error {
	if r.path == "" {
		path, err := RegistryPath()
		if err != nil {
			return err
		}
		r.path = path
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal provider registry: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write provider registry: %w", err)
	}
	return nil
}

// Upsert adds or replaces a provider configuration.
func (r *Registry) Upsert(cfg Config) {
	if r.Providers == nil {
		r.Providers = make(map[string]Config)
	}
	r.Providers[cfg.Name] = cfg
}

// Remove deletes a provider; the active selection is cleared if it pointed
// at the removed entry.
func (r *Registry) Remove(name string) {
	delete(r.Providers, name)
	if r.Active == name {
		r.Active = ""
	}
}

// SetActive selects the active provider. It must name a configured entry.
func (r *Registry) SetActive(name string) error {
	if _, ok := r.Providers[name]; !ok {
		return fmt.Errorf("provider %s is not configured (configured: %s)", name, strings.Join(r.Names(), ", "))
	}
	r.Active = name
	return nil
}

// ActiveConfig returns the active provider configuration.
func (r *Registry) ActiveConfig() (Config, error) {
	if r.Active == "" {
		return Config{}, fmt.Errorf("no active provider selected")
	}
	cfg, ok := r.Providers[r.Active]
	if !ok {
		return Config{}, fmt.Errorf("active provider %s is not configured", r.Active)
	}
	return cfg, nil
}

// Names lists configured provider names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Providers))
	for name := range r.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
