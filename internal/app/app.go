package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cryptohousestar/iabuilder/internal/adapters"
	"github.com/cryptohousestar/iabuilder/internal/conversation"
	"github.com/cryptohousestar/iabuilder/internal/engine"
	"github.com/cryptohousestar/iabuilder/internal/prompts"
	"github.com/cryptohousestar/iabuilder/internal/project"
	"github.com/cryptohousestar/iabuilder/internal/providers"
	"github.com/cryptohousestar/iabuilder/internal/ratelimit"
	"github.com/cryptohousestar/iabuilder/internal/tools"
	"github.com/cryptohousestar/iabuilder/internal/tools/execution"
)

// Options configures BuildApp.
type Options struct {
	WorkingDirectory string
	BaseDir          string // config root, defaults to $HOME/.iabuilder
	Hooks            engine.Hooks
	Confirm          engine.ConfirmFunc
	// DisableExplorer skips the project index (tests, throwaway dirs).
	DisableExplorer bool
}

// App holds the assembled core components.
type App struct {
	Processor     *engine.Processor
	Conversation  *conversation.Conversation
	Limiter       *ratelimit.Limiter
	Registry      *providers.Registry
	ModelRegistry *providers.ModelRegistry
	Explorer      *project.Explorer
	Provider      providers.Provider
	Adapter       *adapters.Adapter

	configMgr *ConfigManager
	config    LegacyConfig
	hooks     engine.Hooks
	confirm   engine.ConfirmFunc
	workDir   string
}

// BuildApp constructs every core component for a session rooted at the
// working directory.
func BuildApp(ctx context.Context, opts Options) (*App, error) {
	configMgr, err := NewConfigManager(opts.BaseDir)
	if err != nil {
		return nil, err
	}
	cfg, err := configMgr.Load()
	if err != nil {
		return nil, err
	}

	registry, err := providers.LoadRegistry(filepath.Join(configMgr.BaseDir(), "providers.json"))
	if err != nil {
		return nil, err
	}
	// The legacy single-provider config meant Groq; fold it in so old
	// installs keep working.
	if cfg.APIKey != "" && cfg.APIKey != "<from_environment>" {
		if _, exists := registry.Providers["groq"]; !exists {
			registry.Upsert(providers.Config{
				Name:         "groq",
				APIKey:       cfg.APIKey,
				DefaultModel: cfg.DefaultModel,
				Enabled:      true,
			})
		}
	}
	if registry.Active == "" && len(registry.Providers) > 0 {
		for _, name := range registry.Names() {
			if registry.Providers[name].Enabled || registry.Providers[name].APIKey != "" {
				_ = registry.SetActive(name)
				break
			}
		}
	}

	providerCfg, err := registry.ActiveConfig()
	if err != nil {
		return nil, fmt.Errorf("no provider configured: set <PROVIDER>_API_KEY or edit %s",
			filepath.Join(configMgr.BaseDir(), "providers.json"))
	}
	provider, err := providers.New(providerCfg)
	if err != nil {
		return nil, err
	}

	model := providerCfg.DefaultModel
	if model == "" {
		model = providers.DefaultModelFor(providerCfg.Name)
	}
	if model == "" {
		model = cfg.DefaultModel
	}

	var explorer *project.Explorer
	if !opts.DisableExplorer {
		explorer, err = project.NewExplorer(ctx, opts.WorkingDirectory,
			filepath.Join(configMgr.BaseDir(), "index.db"))
		if err != nil {
			// The explorer is a convenience; a session without semantic
			// references is still a working session.
			explorer = nil
		}
	}

	adapter := adapters.ForModel(model)

	promptCtx := prompts.Context{
		WorkingDir: opts.WorkingDirectory,
		Toolbox:    cfg.Toolbox,
		Strictness: adapter.StrictnessHint(),
	}
	if explorer != nil {
		promptCtx.Languages = explorer.Languages()
	}

	conv, err := conversation.New(conversation.Options{
		BaseDir:           configMgr.BaseDir(),
		AutoSave:          cfg.AutoSave,
		EnableCompression: true,
		SystemPrompt:      prompts.System(promptCtx),
	})
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(providerCfg.Name, model, "free")

	hooks := opts.Hooks
	limiter.OnWait(func(secondsLeft int) {
		hooks.OnRateLimitWait(ctx, secondsLeft)
	})

	var resolver *project.Explorer
	if explorer != nil {
		resolver = explorer
	}
	toolOpts := tools.Options{
		WorkDir:  opts.WorkingDirectory,
		SafeMode: cfg.SafeMode,
		Stream: func(line string) {
			hooks.OnToolOutput(ctx, line)
		},
	}
	if resolver != nil {
		toolOpts.Resolver = resolver
	}
	registryTools := tools.NewRegistry(toolOpts)

	loopCfg := engine.DefaultConfig(model)
	loopCfg.Temperature = cfg.Temperature
	loopCfg.MaxTokens = cfg.MaxTokens
	loopCfg.Streaming = cfg.Streaming
	loopCfg.Autorun = cfg.Autorun
	loopCfg.Toolbox = cfg.Toolbox

	processor := engine.NewProcessor(provider, adapter, registryTools, conv, limiter, hooks, opts.Confirm, loopCfg)

	return &App{
		Processor:     processor,
		Conversation:  conv,
		Limiter:       limiter,
		Registry:      registry,
		ModelRegistry: providers.NewModelRegistry(),
		Explorer:      explorer,
		Provider:      provider,
		Adapter:       adapter,
		configMgr:     configMgr,
		config:        cfg,
		hooks:         hooks,
		confirm:       opts.Confirm,
		workDir:       opts.WorkingDirectory,
	}, nil
}

// HandleUserMessage is the agent loop entry point for the CLI.
func (a *App) HandleUserMessage(ctx context.Context, text string) error {
	return a.Processor.HandleUserMessage(ctx, text)
}

// Close releases resources and reaps stray tool subprocesses.
func (a *App) Close() {
	execution.Cleanup()
	if a.Explorer != nil {
		a.Explorer.Close()
	}
}

// SwitchProvider activates another configured provider and rebuilds the
// client, adapter and limiter. Conversation history is preserved.
func (a *App) SwitchProvider(name string) error {
	if err := a.Registry.SetActive(name); err != nil {
		return err
	}
	cfg, err := a.Registry.ActiveConfig()
	if err != nil {
		return err
	}
	provider, err := providers.New(cfg)
	if err != nil {
		return err
	}

	model := cfg.DefaultModel
	if model == "" {
		model = providers.DefaultModelFor(name)
	}

	a.Provider = provider
	a.Adapter = adapters.ForModel(model)
	a.Processor.SetProvider(provider, a.Adapter, model)
	a.Limiter.UpdateModel(name, model, "free")
	return a.Registry.Save()
}

// SwitchModel selects another model on the active provider.
func (a *App) SwitchModel(model string) error {
	cfg, err := a.Registry.ActiveConfig()
	if err != nil {
		return err
	}
	a.Adapter = adapters.ForModel(model)
	a.Processor.SetProvider(a.Provider, a.Adapter, model)
	a.Limiter.UpdateModel(cfg.Name, model, "free")

	cfg.DefaultModel = model
	a.Registry.Upsert(cfg)
	return a.Registry.Save()
}

// CommandHandler executes one CLI command and returns its output.
type CommandHandler func(ctx context.Context, args string) (string, error)

// Commands returns the registerable command handlers the core exposes.
func (a *App) Commands() map[string]CommandHandler {
	return map[string]CommandHandler{
		"reset":    a.cmdReset,
		"autorun":  a.cmdToggle("autorun"),
		"toolbox":  a.cmdToggle("toolbox"),
		"stream":   a.cmdToggle("stream"),
		"stats":    a.cmdStats,
		"compress": a.cmdCompress,
		"save":     a.cmdSave,
		"provider": a.cmdProvider,
		"model":    a.cmdModel,
		"models":   a.cmdModels,
	}
}

func (a *App) cmdReset(ctx context.Context, _ string) (string, error) {
	if err := a.Conversation.Reset(); err != nil {
		return "", err
	}
	promptCtx := prompts.Context{
		WorkingDir: a.workDir,
		Toolbox:    a.config.Toolbox,
		Strictness: a.Adapter.StrictnessHint(),
	}
	if a.Explorer != nil {
		promptCtx.Languages = a.Explorer.Languages()
	}
	if err := a.Conversation.Append(engine.Message{
		Role:    engine.RoleSystem,
		Content: prompts.System(promptCtx),
	}); err != nil {
		return "", err
	}
	return "Conversación reiniciada.", nil
}

func (a *App) cmdToggle(name string) CommandHandler {
	return func(ctx context.Context, _ string) (string, error) {
		cfg := a.Processor.Config()
		var state bool
		switch name {
		case "autorun":
			cfg.Autorun = !cfg.Autorun
			a.config.Autorun = cfg.Autorun
			state = cfg.Autorun
		case "toolbox":
			cfg.Toolbox = !cfg.Toolbox
			a.config.Toolbox = cfg.Toolbox
			state = cfg.Toolbox
		case "stream":
			cfg.Streaming = !cfg.Streaming
			a.config.Streaming = cfg.Streaming
			state = cfg.Streaming
		}
		a.Processor.SetConfig(cfg)
		if err := a.configMgr.Save(a.config); err != nil {
			return "", err
		}
		word := "desactivado"
		if state {
			word = "activado"
		}
		return fmt.Sprintf("%s %s.", name, word), nil
	}
}

func (a *App) cmdStats(ctx context.Context, _ string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Sesión: %s\n", a.Conversation.SessionID)
	fmt.Fprintf(&b, "Mensajes: %d (≈%d tokens)\n", a.Conversation.Len(), a.Conversation.EstimatedTokens())
	fmt.Fprintf(&b, "Compresiones: %d\n", a.Conversation.CompressionCount())
	if a.Explorer != nil {
		fmt.Fprintf(&b, "Proyecto: %d archivos, lenguajes: %s\n",
			a.Explorer.FileCount(), strings.Join(a.Explorer.Languages(), ", "))
	}
	b.WriteString(a.Limiter.Usage().String())
	return b.String(), nil
}

func (a *App) cmdCompress(ctx context.Context, _ string) (string, error) {
	if err := a.Conversation.Compress(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Contexto comprimido (%d mensajes).", a.Conversation.Len()), nil
}

func (a *App) cmdSave(ctx context.Context, args string) (string, error) {
	path := strings.TrimSpace(args)
	if path == "" {
		path = fmt.Sprintf("conversacion_%s.md", a.Conversation.SessionID)
	}
	if err := a.Conversation.SaveMarkdown(path); err != nil {
		return "", err
	}
	return fmt.Sprintf("Conversación guardada en %s.", path), nil
}

func (a *App) cmdProvider(ctx context.Context, args string) (string, error) {
	name := strings.TrimSpace(args)
	if name == "" {
		return fmt.Sprintf("Proveedor activo: %s (configurados: %s)",
			a.Registry.Active, strings.Join(a.Registry.Names(), ", ")), nil
	}
	if err := a.SwitchProvider(name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Proveedor cambiado a %s (%s).", name, a.Processor.Config().Model), nil
}

func (a *App) cmdModel(ctx context.Context, args string) (string, error) {
	model := strings.TrimSpace(args)
	if model == "" {
		return fmt.Sprintf("Modelo activo: %s", a.Processor.Config().Model), nil
	}
	if err := a.SwitchModel(model); err != nil {
		return "", err
	}
	return fmt.Sprintf("Modelo cambiado a %s.", model), nil
}

func (a *App) cmdModels(ctx context.Context, _ string) (string, error) {
	models := a.ModelRegistry.Refresh(ctx, a.Provider)

	categories := make(map[string][]string)
	for _, m := range models {
		categories[m.Category] = append(categories[m.Category], m.ID)
	}
	catNames := make([]string, 0, len(categories))
	for cat := range categories {
		catNames = append(catNames, cat)
	}
	sort.Strings(catNames)

	var b strings.Builder
	fmt.Fprintf(&b, "Modelos de %s:\n", a.Provider.Name())
	for _, cat := range catNames {
		fmt.Fprintf(&b, "  [%s]\n", cat)
		for _, id := range categories[cat] {
			fmt.Fprintf(&b, "    %s\n", id)
		}
	}
	return b.String(), nil
}
