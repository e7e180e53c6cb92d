package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "demo.txt", "uno\ndos\ntres\ncuatro\ncinco")

	tool := NewReadFileTool(dir, nil)
	ctx := context.Background()

	res, err := tool.Fn(ctx, map[string]any{"file_path": "demo.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	payload := res.Result.(map[string]any)
	if payload["content"] != "uno\ndos\ntres\ncuatro\ncinco" {
		t.Errorf("content = %q", payload["content"])
	}
	if payload["total_lines"] != 5 {
		t.Errorf("total_lines = %v, want 5", payload["total_lines"])
	}
}

func TestReadFileLineRange(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "demo.txt", "uno\ndos\ntres\ncuatro\ncinco")

	tool := NewReadFileTool(dir, nil)
	res, err := tool.Fn(context.Background(), map[string]any{
		"file_path":  "demo.txt",
		"start_line": float64(2),
		"end_line":   float64(4),
	})
	if err != nil {
		t.Fatal(err)
	}
	payload := res.Result.(map[string]any)
	if payload["content"] != "dos\ntres\ncuatro" {
		t.Errorf("range content = %q", payload["content"])
	}
}

func TestReadFileErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, dir, "bin.dat", "hola\x00mundo")

	tool := NewReadFileTool(dir, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		args    map[string]any
		wantSub string
	}{
		{"not found", map[string]any{"file_path": "nope.txt"}, "no encontrado"},
		{"directory", map[string]any{"file_path": "sub"}, "directorio"},
		{"binary", map[string]any{"file_path": "bin.dat"}, "binario"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tool.Fn(ctx, tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if res.Success {
				t.Fatal("expected a failure")
			}
			if !strings.Contains(res.Error, tt.wantSub) {
				t.Errorf("error = %q, want substring %q", res.Error, tt.wantSub)
			}
		})
	}
}

type fakeResolver map[string]string

func (r fakeResolver) Resolve(ref string) (string, bool) {
	path, ok := r[strings.ToLower(ref)]
	return path, ok
}

func TestReadFileSemanticReference(t *testing.T) {
	dir := t.TempDir()
	readme := writeTestFile(t, dir, "README.md", "# Demo\n")

	tool := NewReadFileTool(dir, fakeResolver{"el readme": readme})
	res, err := tool.Fn(context.Background(), map[string]any{"file_path": "el readme"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("semantic read failed: %s", res.Error)
	}
	payload := res.Result.(map[string]any)
	if payload["content"] != "# Demo\n" {
		t.Errorf("content = %q", payload["content"])
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteFileTool(dir)

	res, err := tool.Fn(context.Background(), map[string]any{
		"file_path": "nested/deep/out.txt",
		"content":   "contenido",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("write failed: %s", res.Error)
	}

	data, err := os.ReadFile(filepath.Join(dir, "nested", "deep", "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "contenido" {
		t.Errorf("written content = %q", data)
	}
}

func TestWriteFileReplaces(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "out.txt", "viejo")

	tool := NewWriteFileTool(dir)
	res, err := tool.Fn(context.Background(), map[string]any{
		"file_path": "out.txt",
		"content":   "nuevo",
	})
	if err != nil || !res.Success {
		t.Fatalf("write failed: %v %s", err, res.Error)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "out.txt"))
	if string(data) != "nuevo" {
		t.Errorf("content = %q, want nuevo", data)
	}
}

func TestEditFile(t *testing.T) {
	dir := t.TempDir()
	tool := NewEditFileTool(dir)
	ctx := context.Background()

	writeTestFile(t, dir, "code.py", "def hola():\n    print('hola')\n")

	res, err := tool.Fn(ctx, map[string]any{
		"file_path": "code.py",
		"old_text":  "print('hola')",
		"new_text":  "print('adiós')",
	})
	if err != nil || !res.Success {
		t.Fatalf("edit failed: %v %s", err, res.Error)
	}
	payload := res.Result.(map[string]any)
	if payload["replacements"] != 1 {
		t.Errorf("replacements = %v, want 1", payload["replacements"])
	}

	data, _ := os.ReadFile(filepath.Join(dir, "code.py"))
	if !strings.Contains(string(data), "adiós") {
		t.Errorf("edit not applied: %q", data)
	}
}

func TestEditFileOldTextMissing(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "code.py", "print('hola')\n")

	tool := NewEditFileTool(dir)
	res, err := tool.Fn(context.Background(), map[string]any{
		"file_path": "code.py",
		"old_text":  "no existe",
		"new_text":  "da igual",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("edit with missing old_text must fail")
	}
	if !strings.Contains(res.Error, "no se encontró") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestEditFileAmbiguousWithoutReplaceAll(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "code.py", "x = 1\nx = 1\nx = 1\n")

	tool := NewEditFileTool(dir)
	ctx := context.Background()

	res, err := tool.Fn(ctx, map[string]any{
		"file_path": "code.py",
		"old_text":  "x = 1",
		"new_text":  "x = 2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("ambiguous edit must fail without replace_all")
	}

	res, err = tool.Fn(ctx, map[string]any{
		"file_path":   "code.py",
		"old_text":    "x = 1",
		"new_text":    "x = 2",
		"replace_all": true,
	})
	if err != nil || !res.Success {
		t.Fatalf("replace_all edit failed: %v %s", err, res.Error)
	}
	payload := res.Result.(map[string]any)
	if payload["replacements"] != 3 {
		t.Errorf("replacements = %v, want 3", payload["replacements"])
	}
}
