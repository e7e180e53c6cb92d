package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

// NewWriteFileTool creates the write_file tool. Parent directories are
// created; the replacement is atomic from the caller's viewpoint.
func NewWriteFileTool(workDir string) engine.Tool {
	return engine.Tool{
		Name:        "write_file",
		Description: "Crea o reemplaza un archivo con el contenido indicado. Crea los directorios padre si no existen.",
		SchemaJSON: `{
  "type": "object",
  "properties": {
    "file_path": {"type": "string", "description": "Ruta del archivo a escribir"},
    "content": {"type": "string", "description": "Contenido completo del archivo"}
  },
  "required": ["file_path", "content"]
}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolResult, error) {
			filePath, _ := args["file_path"].(string)
			content, _ := args["content"].(string)
			return writeFile(workDir, filePath, content)
		},
	}
}

func writeFile(workDir, filePath, content string) (engine.ToolResult, error) {
	path := filePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	path = filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return engine.ToolResult{Success: false, Error: fmt.Sprintf("no se pudo crear el directorio: %v", err)}, nil
	}

	// Write to a sibling temp file and rename so readers never observe a
	// half-written file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return engine.ToolResult{Success: false, Error: fmt.Sprintf("no se pudo escribir: %v", err)}, nil
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return engine.ToolResult{Success: false, Error: fmt.Sprintf("no se pudo reemplazar el archivo: %v", err)}, nil
	}

	return engine.ToolResult{
		Success: true,
		Result: map[string]any{
			"path":  path,
			"bytes": len(content),
		},
		Summary: fmt.Sprintf("Escrito %s (%s)", filepath.Base(path), units.HumanSize(float64(len(content)))),
	}, nil
}
