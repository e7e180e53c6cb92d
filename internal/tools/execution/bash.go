// Package execution implements the execute_bash tool.
package execution

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

const defaultTimeout = 30 * time.Second

// destructivePatterns is the documented list rejected in safe mode.
var destructivePatterns = []string{
	"rm ",
	"rmdir ",
	"del ",
	"format ",
	"mkfs",
	"> /dev/",
	"dd if=",
	"chmod -R",
	"chown -R",
}

// IsDestructive reports whether a command matches the destructive list.
func IsDestructive(command string) bool {
	lower := strings.ToLower(command)
	for _, pattern := range destructivePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// StreamFunc receives command output lines as they arrive.
type StreamFunc func(line string)

// reaper tracks running child process groups so the app can kill any
// stragglers on exit.
type reaper struct {
	mu   sync.Mutex
	pids map[int]bool
}

var processReaper = &reaper{pids: make(map[int]bool)}

func (r *reaper) add(pid int) {
	r.mu.Lock()
	r.pids[pid] = true
	r.mu.Unlock()
}

func (r *reaper) remove(pid int) {
	r.mu.Lock()
	delete(r.pids, pid)
	r.mu.Unlock()
}

// Cleanup kills any process groups still running. The CLI installs this as
// an exit hook.
func Cleanup() {
	processReaper.mu.Lock()
	defer processReaper.mu.Unlock()
	for pid := range processReaper.pids {
		syscall.Kill(-pid, syscall.SIGKILL)
		delete(processReaper.pids, pid)
	}
}

// Options configures the tool.
type Options struct {
	SafeMode bool
	Stream   StreamFunc // may be nil
}

// NewBashTool creates the execute_bash tool.
func NewBashTool(workDir string, opts Options) engine.Tool {
	return engine.Tool{
		Name:        "execute_bash",
		Description: "Ejecuta un comando de shell (ls, git, npm, python, etc.) y devuelve stdout, stderr y el código de salida.",
		SchemaJSON: `{
  "type": "object",
  "properties": {
    "command": {"type": "string", "description": "Comando a ejecutar"},
    "working_dir": {"type": "string", "description": "Directorio de trabajo", "default": "."},
    "timeout": {"type": "integer", "description": "Tiempo máximo en segundos", "default": 30}
  },
  "required": ["command"]
}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolResult, error) {
			command, _ := args["command"].(string)
			dir, _ := args["working_dir"].(string)
			timeout := defaultTimeout
			if v, ok := args["timeout"].(float64); ok && v > 0 {
				timeout = time.Duration(v) * time.Second
			}
			return runCommand(ctx, workDir, dir, command, timeout, opts)
		},
	}
}

func runCommand(ctx context.Context, workDir, dir, command string, timeout time.Duration, opts Options) (engine.ToolResult, error) {
	if dir == "" || dir == "." {
		dir = workDir
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(workDir, dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return engine.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("Directorio de trabajo no encontrado: %s", dir),
		}, nil
	}

	if opts.SafeMode && IsDestructive(command) {
		return engine.ToolResult{
			Success: false,
			Error:   "Command blocked by safe mode",
			Summary: "Comando potencialmente destructivo bloqueado. Desactiva el modo seguro para ejecutarlo.",
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = dir
	// Run the command in its own process group so a timeout can take the
	// whole pipeline down, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return engine.ToolResult{Success: false, Error: err.Error()}, nil
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return engine.ToolResult{Success: false, Error: err.Error()}, nil
	}

	if err := cmd.Start(); err != nil {
		return engine.ToolResult{Success: false, Error: fmt.Sprintf("no se pudo iniciar el comando: %v", err)}, nil
	}
	pid := cmd.Process.Pid
	processReaper.add(pid)
	defer processReaper.remove(pid)

	killed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			syscall.Kill(-pid, syscall.SIGKILL)
		case <-killed:
		}
	}()

	var stdout, stderr strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go collectOutput(&wg, stdoutPipe, &stdout, opts.Stream)
	go collectOutput(&wg, stderrPipe, &stderr, opts.Stream)
	wg.Wait()

	err = cmd.Wait()
	close(killed)

	timedOut := ctx.Err() == context.DeadlineExceeded

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	summary := summarize(command, exitCode, timedOut, stderr.String())
	result := engine.ToolResult{
		Success: exitCode == 0 && !timedOut,
		Result: map[string]any{
			"stdout":    truncateOutput(stdout.String()),
			"stderr":    truncateOutput(stderr.String()),
			"exit_code": exitCode,
			"timed_out": timedOut,
		},
		Summary: summary,
	}
	if !result.Success {
		result.Error = summary
	}
	return result, nil
}

func collectOutput(wg *sync.WaitGroup, r io.Reader, buf *strings.Builder, stream StreamFunc) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteString("\n")
		if stream != nil {
			stream(line)
		}
	}
}

const maxOutputChars = 20_000

func truncateOutput(s string) string {
	if len(s) <= maxOutputChars {
		return s
	}
	return s[:maxOutputChars] + "\n... [salida truncada]"
}

func summarize(command string, exitCode int, timedOut bool, stderr string) string {
	short := command
	if len(short) > 60 {
		short = short[:60] + "..."
	}
	switch {
	case timedOut:
		return fmt.Sprintf("'%s' excedió el tiempo límite", short)
	case exitCode == 0:
		return fmt.Sprintf("'%s' completado", short)
	default:
		firstErr := strings.SplitN(strings.TrimSpace(stderr), "\n", 2)[0]
		if firstErr != "" {
			return fmt.Sprintf("'%s' falló (exit %d): %s", short, exitCode, firstErr)
		}
		return fmt.Sprintf("'%s' falló (exit %d)", short, exitCode)
	}
}
