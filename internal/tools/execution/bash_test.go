package execution

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCommandSuccess(t *testing.T) {
	tool := NewBashTool(t.TempDir(), Options{})

	res, err := tool.Fn(context.Background(), map[string]any{"command": "echo hola"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("command failed: %s", res.Error)
	}
	payload := res.Result.(map[string]any)
	if payload["exit_code"] != 0 {
		t.Errorf("exit_code = %v, want 0", payload["exit_code"])
	}
	if !strings.Contains(payload["stdout"].(string), "hola") {
		t.Errorf("stdout = %q", payload["stdout"])
	}
	if res.Summary == "" {
		t.Error("expected a one-line summary")
	}
}

func TestRunCommandFailure(t *testing.T) {
	tool := NewBashTool(t.TempDir(), Options{})

	res, err := tool.Fn(context.Background(), map[string]any{"command": "exit 3"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("non-zero exit must fail")
	}
	payload := res.Result.(map[string]any)
	if payload["exit_code"] != 3 {
		t.Errorf("exit_code = %v, want 3", payload["exit_code"])
	}
	// The summary doubles as the error message.
	if res.Error != res.Summary {
		t.Errorf("error %q must equal summary %q", res.Error, res.Summary)
	}
}

func TestRunCommandStderrCaptured(t *testing.T) {
	tool := NewBashTool(t.TempDir(), Options{})

	res, err := tool.Fn(context.Background(), map[string]any{"command": "echo fallo >&2; exit 1"})
	if err != nil {
		t.Fatal(err)
	}
	payload := res.Result.(map[string]any)
	if !strings.Contains(payload["stderr"].(string), "fallo") {
		t.Errorf("stderr = %q", payload["stderr"])
	}
	if !strings.Contains(res.Error, "fallo") {
		t.Errorf("summary should quote stderr: %q", res.Error)
	}
}

func TestRunCommandTimeout(t *testing.T) {
	tool := NewBashTool(t.TempDir(), Options{})

	start := time.Now()
	res, err := tool.Fn(context.Background(), map[string]any{
		"command": "sleep 10",
		"timeout": float64(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout did not kill the command (took %v)", elapsed)
	}
	if res.Success {
		t.Fatal("timed-out command must fail")
	}
	payload := res.Result.(map[string]any)
	if payload["timed_out"] != true {
		t.Errorf("timed_out = %v, want true", payload["timed_out"])
	}
}

func TestRunCommandStreamsOutput(t *testing.T) {
	var lines []string
	tool := NewBashTool(t.TempDir(), Options{
		Stream: func(line string) { lines = append(lines, line) },
	})

	_, err := tool.Fn(context.Background(), map[string]any{"command": "echo uno; echo dos"})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Errorf("expected 2 streamed lines, got %v", lines)
	}
}

func TestRunCommandMissingWorkingDir(t *testing.T) {
	tool := NewBashTool(t.TempDir(), Options{})

	res, err := tool.Fn(context.Background(), map[string]any{
		"command":     "echo hola",
		"working_dir": "no/existe",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("missing working dir must fail")
	}
}

func TestSafeModeBlocksDestructiveCommands(t *testing.T) {
	tool := NewBashTool(t.TempDir(), Options{SafeMode: true})
	ctx := context.Background()

	blocked := []string{
		"rm -rf /tmp/x",
		"sudo rmdir /tmp/x",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"chmod -R 777 .",
		"echo data > /dev/sda",
	}
	for _, cmd := range blocked {
		res, err := tool.Fn(ctx, map[string]any{"command": cmd})
		if err != nil {
			t.Fatal(err)
		}
		if res.Success {
			t.Errorf("safe mode must block %q", cmd)
		}
		if !strings.Contains(res.Error, "safe mode") {
			t.Errorf("error for %q = %q", cmd, res.Error)
		}
	}

	// Harmless commands still run.
	res, err := tool.Fn(ctx, map[string]any{"command": "echo inofensivo"})
	if err != nil || !res.Success {
		t.Errorf("safe mode must not block harmless commands: %v %s", err, res.Error)
	}
}

func TestIsDestructive(t *testing.T) {
	if IsDestructive("ls -la") {
		t.Error("ls is not destructive")
	}
	if !IsDestructive("rm -rf build") {
		t.Error("rm is destructive")
	}
	// The check is case-insensitive.
	if !IsDestructive("RM -rf build") {
		t.Error("detection must be case-insensitive")
	}
}
