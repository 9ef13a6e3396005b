package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/odvcencio/tandem/pkg/console"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var errUnknownCommand = errors.New("unknown command")

func main() {
	os.Exit(dispatch(os.Args[1:]))
}

// dispatch runs a subcommand and returns the process exit code. With no
// arguments the server starts, which is what the container entrypoint does.
func dispatch(args []string) int {
	if len(args) == 0 {
		return runCommand(runServeCommand, nil)
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return 0
	case "--help", "-h", "help":
		printHelp()
		return 0
	case "serve":
		return runCommand(runServeCommand, args[1:])
	case "attach":
		return runCommand(runAttachCommand, args[1:])
	case "events":
		return runCommand(runEventsCommand, args[1:])
	default:
		if len(args[0]) > 0 && args[0][0] == '-' {
			// flags without a command belong to serve
			return runCommand(runServeCommand, args)
		}
		console.NewWithOutput(os.Stderr, console.Options{}).Error("%v: %s", errUnknownCommand, args[0])
		printHelp()
		return 2
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		console.NewWithOutput(os.Stderr, console.Options{}).Error("%v", err)
		return exitCodeForError(err)
	}
	return 0
}

func printHelp() {
	fmt.Println("tandem - live editor backend: shared terminals and file change broadcasts")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  tandem [COMMAND] [FLAGS]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  serve [--bind host:port]         Start the HTTP/WebSocket server (default)")
	fmt.Println("  attach [--url ws://host/ws]      Open an interactive terminal on a running server")
	fmt.Println("  events [--nats url]              Print file change events published on NATS")
	fmt.Println("  version                          Show version information")
	fmt.Println()
	fmt.Println("CONFIGURATION:")
	fmt.Println("  ~/.tandem/config.yaml, ./.tandem/config.yaml, then environment:")
	fmt.Println("  SOURCE_DIR, PREVIEW_DIR, SOURCE_TYPE (local|git), EDITOR_PORT, TANDEM_*")
}

func printVersion() {
	fmt.Printf("tandem %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}
