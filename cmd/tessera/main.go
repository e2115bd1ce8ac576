// Command tessera runs the data-contract coordination service.
package main

import (
	"fmt"
	"io"
	"os"
)

const version = "v1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run dispatches the subcommand; no arguments means server.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stderr)
	}
	switch args[1] {
	case "server", "serve":
		return startServer(stderr)
	case "bootstrap":
		return runBootstrapCmd(stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "tessera %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI colors for the usage screen.
const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sTessera %s%s\n", colorBold+colorBlue, version, colorReset)
	fmt.Fprintf(w, "%sData contracts for analytics warehouses.%s\n", colorGray, colorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", colorBold, colorReset)
	fmt.Fprintln(w, "  tessera <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVICE")
	printCommand(w, "server", "Run the API server (default)")
	printCommand(w, "bootstrap", "Create the admin team and user, then exit")
	printCommand(w, "health", "Check a running server over HTTP")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", colorBold+colorCyan, title, colorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", colorGreen, name, colorReset, desc)
}
