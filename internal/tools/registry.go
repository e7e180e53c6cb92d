// Package tools assembles the built-in tool registry.
package tools

import (
	"sync"

	"github.com/cryptohousestar/iabuilder/internal/engine"
	"github.com/cryptohousestar/iabuilder/internal/tools/execution"
	"github.com/cryptohousestar/iabuilder/internal/tools/filesystem"
	"github.com/cryptohousestar/iabuilder/internal/tools/web"
)

// Options configures the built-in tools.
type Options struct {
	WorkDir  string
	SafeMode bool
	// Resolver resolves semantic file references for read_file; may be nil.
	Resolver filesystem.ReferenceResolver
	// Stream receives execute_bash output lines as they arrive; may be nil.
	Stream execution.StreamFunc
}

// NewRegistry builds a registry with the built-in tools: read_file,
// write_file, edit_file, execute_bash and web_search.
func NewRegistry(opts Options) engine.ToolRegistry {
	reg := make(engine.ToolRegistry)
	reg.Register(filesystem.NewReadFileTool(opts.WorkDir, opts.Resolver))
	reg.Register(filesystem.NewWriteFileTool(opts.WorkDir))
	reg.Register(filesystem.NewEditFileTool(opts.WorkDir))
	reg.Register(execution.NewBashTool(opts.WorkDir, execution.Options{
		SafeMode: opts.SafeMode,
		Stream:   opts.Stream,
	}))
	reg.Register(web.NewSearchTool(nil))
	return reg
}

var (
	defaultMu       sync.Mutex
	defaultRegistry = make(engine.ToolRegistry)
)

// Register adds a tool to the process-global registry. Last write wins.
func Register(t engine.Tool) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry.Register(t)
}

// Default returns a snapshot of the process-global registry.
func Default() engine.ToolRegistry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	snapshot := make(engine.ToolRegistry, len(defaultRegistry))
	for name, tool := range defaultRegistry {
		snapshot[name] = tool
	}
	return snapshot
}
