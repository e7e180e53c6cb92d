package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

// NewEditFileTool creates the edit_file tool (search and replace).
func NewEditFileTool(workDir string) engine.Tool {
	return engine.Tool{
		Name:        "edit_file",
		Description: "Modifica un archivo existente reemplazando old_text por new_text. old_text debe coincidir exactamente.",
		SchemaJSON: `{
  "type": "object",
  "properties": {
    "file_path": {"type": "string", "description": "Ruta del archivo a modificar"},
    "old_text": {"type": "string", "description": "Texto exacto a buscar"},
    "new_text": {"type": "string", "description": "Texto de reemplazo"},
    "replace_all": {"type": "boolean", "description": "Reemplazar todas las apariciones", "default": false}
  },
  "required": ["file_path", "old_text", "new_text"]
}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolResult, error) {
			filePath, _ := args["file_path"].(string)
			oldText, _ := args["old_text"].(string)
			newText, _ := args["new_text"].(string)
			replaceAll, _ := args["replace_all"].(bool)
			return editFile(workDir, filePath, oldText, newText, replaceAll)
		},
	}
}

func editFile(workDir, filePath, oldText, newText string, replaceAll bool) (engine.ToolResult, error) {
	path := filePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	path = filepath.Clean(path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return engine.ToolResult{Success: false, Error: fmt.Sprintf("Archivo no encontrado: %s", filePath)}, nil
	}
	if err != nil {
		return engine.ToolResult{Success: false, Error: err.Error()}, nil
	}
	content := string(data)

	count := strings.Count(content, oldText)
	if count == 0 {
		hint := ""
		// A whitespace-only mismatch is the usual culprit; say so.
		normalizedContent := strings.Join(strings.Fields(content), " ")
		normalizedOld := strings.Join(strings.Fields(oldText), " ")
		if normalizedOld != "" && strings.Contains(normalizedContent, normalizedOld) {
			hint = " El texto existe pero con espacios o indentación diferente: vuelve a leer el archivo y copia el texto exacto."
		}
		return engine.ToolResult{
			Success: false,
			Error:   "old_text no se encontró en el archivo." + hint,
		}, nil
	}

	if count > 1 && !replaceAll {
		var lineNums []int
		firstLine := strings.TrimSpace(strings.SplitN(oldText, "\n", 2)[0])
		for i, line := range strings.Split(content, "\n") {
			if firstLine != "" && strings.Contains(line, firstLine) {
				lineNums = append(lineNums, i+1)
				if len(lineNums) == 5 {
					break
				}
			}
		}
		return engine.ToolResult{
			Success: false,
			Error: fmt.Sprintf("old_text aparece %d veces (líneas %v). Añade más contexto para que sea único o usa replace_all.",
				count, lineNums),
		}, nil
	}

	replacements := 1
	if replaceAll {
		content = strings.ReplaceAll(content, oldText, newText)
		replacements = count
	} else {
		content = strings.Replace(content, oldText, newText, 1)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return engine.ToolResult{Success: false, Error: err.Error()}, nil
	}

	return engine.ToolResult{
		Success: true,
		Result: map[string]any{
			"path":         path,
			"replacements": replacements,
		},
		Summary: fmt.Sprintf("Reemplazadas %d apariciones en %s", replacements, filepath.Base(path)),
	}, nil
}
