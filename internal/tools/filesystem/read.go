// Package filesystem implements the file tools: read_file, write_file and
// edit_file.
package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

// ReferenceResolver resolves semantic file references ("readme", "el
// archivo html") against a project index. Nil disables resolution.
type ReferenceResolver interface {
	Resolve(reference string) (string, bool)
}

// maxReadSize guards against dumping huge files into the context.
const maxReadSize = 2 * 1024 * 1024

// NewReadFileTool creates the read_file tool. workDir anchors relative
// paths; resolver may be nil.
func NewReadFileTool(workDir string, resolver ReferenceResolver) engine.Tool {
	return engine.Tool{
		Name:        "read_file",
		Description: "Lee el contenido de un archivo. Acepta rutas absolutas, relativas o referencias como 'readme' o 'index.html'.",
		SchemaJSON: `{
  "type": "object",
  "properties": {
    "file_path": {"type": "string", "description": "Ruta del archivo a leer (absoluta, relativa o referencia como 'readme')"},
    "start_line": {"type": "integer", "description": "Primera línea a leer (desde 1)", "default": 1},
    "end_line": {"type": "integer", "description": "Última línea a leer (-1 = hasta el final)", "default": -1}
  },
  "required": ["file_path"]
}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolResult, error) {
			filePath, _ := args["file_path"].(string)
			startLine := intArg(args, "start_line", 1)
			endLine := intArg(args, "end_line", -1)
			return readFile(workDir, resolver, filePath, startLine, endLine)
		},
	}
}

func readFile(workDir string, resolver ReferenceResolver, reference string, startLine, endLine int) (engine.ToolResult, error) {
	path := resolvePath(workDir, resolver, reference)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return engine.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("Archivo no encontrado: %s", reference),
		}, nil
	}
	if err != nil {
		return engine.ToolResult{Success: false, Error: err.Error()}, nil
	}
	if info.IsDir() {
		return engine.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("%s es un directorio, no un archivo", reference),
		}, nil
	}
	if info.Size() > maxReadSize {
		return engine.ToolResult{
			Success: false,
			Error: fmt.Sprintf("Archivo demasiado grande (%s, máximo %s). Usa start_line/end_line para leer un rango.",
				units.HumanSize(float64(info.Size())), units.HumanSize(float64(maxReadSize))),
		}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return engine.ToolResult{Success: false, Error: err.Error()}, nil
	}
	if isBinary(data) {
		return engine.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("%s parece ser un archivo binario (%s)", reference, units.HumanSize(float64(info.Size()))),
		}, nil
	}

	lines := strings.Split(string(data), "\n")
	totalLines := len(lines)

	if startLine < 1 {
		startLine = 1
	}
	if endLine < 0 || endLine > totalLines {
		endLine = totalLines
	}
	if startLine > totalLines {
		return engine.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("start_line %d fuera de rango (el archivo tiene %d líneas)", startLine, totalLines),
		}, nil
	}

	content := strings.Join(lines[startLine-1:endLine], "\n")

	return engine.ToolResult{
		Success: true,
		Result: map[string]any{
			"path":        path,
			"content":     content,
			"total_lines": totalLines,
			"start_line":  startLine,
			"end_line":    endLine,
		},
		Summary: fmt.Sprintf("Leído %s (líneas %d-%d de %d)", filepath.Base(path), startLine, endLine, totalLines),
	}, nil
}

// resolvePath tries the semantic resolver first, then the literal path.
func resolvePath(workDir string, resolver ReferenceResolver, reference string) string {
	if resolver != nil {
		if resolved, ok := resolver.Resolve(reference); ok {
			return resolved
		}
	}
	if filepath.IsAbs(reference) {
		return filepath.Clean(reference)
	}
	return filepath.Join(workDir, reference)
}

// isBinary checks the first 8KB for null bytes.
func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	return bytes.IndexByte(probe, 0) != -1
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
