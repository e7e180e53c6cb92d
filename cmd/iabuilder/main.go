package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cryptohousestar/iabuilder/internal/app"
	"github.com/cryptohousestar/iabuilder/internal/engine"
)

func main() {
	// Load .env if present so provider keys can live next to the project.
	_ = godotenv.Load()

	fs := flag.NewFlagSet("iabuilder", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "working directory (default: current directory)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	workDir := *dirFlag
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			log.Fatalf("failed to get current directory: %v", err)
		}
	}

	if err := run(workDir); err != nil {
		log.Fatalf("iabuilder: %v", err)
	}
}

func run(workDir string) error {
	ctx := context.Background()

	renderer := &renderHook{out: os.Stdout}
	a, err := app.BuildApp(ctx, app.Options{
		WorkingDirectory: workDir,
		Hooks:            engine.Hooks{renderer},
		Confirm:          confirmOnTerminal,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	commands := a.Commands()

	fmt.Printf("iabuilder — sesión %s en %s\n", a.Conversation.SessionID, workDir)
	fmt.Println("Escribe tu mensaje, /help para comandos, /exit para salir.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			name, args, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
			switch name {
			case "exit", "quit":
				return nil
			case "help":
				printHelp(commands)
				continue
			}
			handler, ok := commands[name]
			if !ok {
				fmt.Printf("Comando desconocido: /%s (prueba /help)\n", name)
				continue
			}
			out, err := handler(ctx, args)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Println(out)
			continue
		}

		// Ctrl-C cancels the in-flight turn instead of killing the REPL.
		turnCtx, cancel := context.WithCancel(ctx)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-turnCtx.Done():
			}
		}()

		err := a.HandleUserMessage(turnCtx, line)
		signal.Stop(sigCh)
		cancel()

		if err != nil {
			fmt.Printf("\nError: %v\n", err)
		}
	}
}

func printHelp(commands map[string]app.CommandHandler) {
	fmt.Println("Comandos disponibles:")
	fmt.Println("  /reset            reinicia la conversación")
	fmt.Println("  /autorun          alterna la ejecución automática de herramientas")
	fmt.Println("  /toolbox          alterna el uso de herramientas")
	fmt.Println("  /stream           alterna el streaming de respuestas")
	fmt.Println("  /stats            muestra estadísticas de la sesión")
	fmt.Println("  /compress         comprime el contexto manualmente")
	fmt.Println("  /save [ruta]      exporta la conversación a markdown")
	fmt.Println("  /provider [nombre] muestra o cambia el proveedor activo")
	fmt.Println("  /model [id]       muestra o cambia el modelo")
	fmt.Println("  /models           lista los modelos del proveedor activo")
	fmt.Println("  /exit             salir")
}

// confirmOnTerminal asks for per-tool confirmation when autorun is off.
func confirmOnTerminal(toolName, argsJSON string) bool {
	preview := argsJSON
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	fmt.Printf("\n¿Ejecutar %s(%s)? [s/N] ", toolName, preview)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "s" || answer == "si" || answer == "sí" || answer == "y" || answer == "yes"
}
