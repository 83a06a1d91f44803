package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	_, code := dispatchSubcommand(os.Args[1:])
	os.Exit(code)
}

func dispatchSubcommand(args []string) (bool, int) {
	if len(args) == 0 {
		printHelp()
		return true, 0
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return true, 0
	case "--help", "-h", "help":
		printHelp()
		return true, 0
	case "chat":
		return true, runCommand(runChatCommand, args[1:])
	case "fake":
		return true, runCommand(runFakeCommand, args[1:])
	case "decode":
		return true, runCommand(runDecodeCommand, args[1:])
	default:
		if strings.HasPrefix(args[0], "-") {
			fmt.Fprintf(os.Stderr, "Error: unknown flag: %s\n", args[0])
		} else {
			fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n", args[0])
		}
		fmt.Fprintln(os.Stderr, "Run 'taskchat --help' for usage.")
		return true, 1
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func printHelp() {
	fmt.Println("taskchat - task assistant chat client")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  taskchat <COMMAND> [FLAGS]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  chat [--config path] [--thread id] [--managed]")
	fmt.Println("                                   Chat with the assistant on a thread")
	fmt.Println("  fake [--addr host:port]          Serve an in-memory backend for development")
	fmt.Println("  decode [--strip]                 Decode [ref ...] and [op ...] tokens from stdin")
	fmt.Println("  version                          Show version")
	fmt.Println()
	fmt.Println("CHAT COMMANDS:")
	fmt.Println("  <text>                           Send a message")
	fmt.Println("  /ops                             List pending and applied operations")
	fmt.Println("  /approve N                       Approve pending operation N")
	fmt.Println("  /edit N {json}                   Approve pending operation N with new params")
	fmt.Println("  /decline N                       Decline pending operation N")
	fmt.Println("  /undo N                          Undo applied operation N")
	fmt.Println("  /invoke [op ...]                 Apply an inline operation token")
	fmt.Println("  /retry                           Retry the last failed message")
	fmt.Println("  /dismiss N                       Dismiss operation error N")
	fmt.Println("  /suggest                         Ask for operation suggestions now")
	fmt.Println("  /quit                            Exit")
	fmt.Println()
	fmt.Println("ENVIRONMENT:")
	fmt.Println("  TASKCHAT_BASE_URL, TASKCHAT_API_KEY, TASKCHAT_THREAD_ID, TASKCHAT_MANAGED,")
	fmt.Println("  TASKCHAT_LOG_LEVEL, TASKCHAT_TRACING, TASKCHAT_METRICS_ADDR")
}

func printVersion() {
	fmt.Printf("taskchat %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}
