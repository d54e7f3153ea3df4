package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

var version = "dev" // Set by -ldflags during build

// Available subcommands
var subcommands = []struct {
	name        string
	description string
}{
	{"stat", "Build every source on both toolchain channels"},
	{"config", "Manage configuration"},
	{"run", "List and inspect recorded runs"},
	{"query", "Report on recorded matrix cells"},
	{"import", "Import an existing data.jsonl into the history database"},
	{"serve", "Serve the dashboard data over HTTP"},
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-V") {
		fmt.Printf("moondash version %s\n", version)
		os.Exit(0)
	}

	if len(os.Args) == 1 || os.Args[1] == "--help" || os.Args[1] == "-h" {
		printHelp()
		os.Exit(0)
	}

	subcommand := os.Args[1]

	validSubcommand := false
	for _, sc := range subcommands {
		if sc.name == subcommand {
			validSubcommand = true
			break
		}
	}

	if !validSubcommand {
		fmt.Fprintf(os.Stderr, "Error: unknown subcommand '%s'\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	cmdName := "moondash-" + subcommand

	cmdPath, err := exec.LookPath(cmdName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: command '%s' not found in PATH\n", cmdName)
		fmt.Fprintf(os.Stderr, "Make sure it is installed (try: go install ./cmd/...)\n")
		os.Exit(1)
	}

	// Skip 'moondash' and the subcommand name
	args := []string{filepath.Base(cmdPath)}
	if len(os.Args) > 2 {
		args = append(args, os.Args[2:]...)
	}

	// execve replaces this process so the subcommand receives signals directly
	if err := syscall.Exec(cmdPath, args, os.Environ()); err != nil {
		cmd := exec.Command(cmdPath, args[1:]...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				os.Exit(exitErr.ExitCode())
			}
			fmt.Fprintf(os.Stderr, "Error executing %s: %v\n", cmdName, err)
			os.Exit(1)
		}
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: moondash <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Available commands:\n")
	for _, sc := range subcommands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", sc.name, sc.description)
	}
	fmt.Fprintf(os.Stderr, "\nRun 'moondash <command> --help' for more information on a command.\n")
}

func printHelp() {
	fmt.Printf("moondash - MoonBit build dashboard\n\n")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Printf("DESCRIPTION:\n")
	fmt.Printf("  Builds a list of mooncakes and git repositories with the stable and the\n")
	fmt.Printf("  bleeding moon toolchain (check, build and test on wasm, wasm-gc and js)\n")
	fmt.Printf("  and appends one snapshot per run to a JSON-Lines log.\n")
	fmt.Printf("  This is a unified command that dispatches to the individual moondash-* tools.\n\n")

	fmt.Printf("USAGE:\n")
	fmt.Printf("  moondash <command> [options]\n\n")

	fmt.Printf("AVAILABLE COMMANDS:\n")
	for _, sc := range subcommands {
		fmt.Printf("  %-8s %s\n", sc.name, sc.description)
	}

	fmt.Printf("\nGLOBAL OPTIONS:\n")
	fmt.Printf("  -h, --help       Show this help message\n")
	fmt.Printf("  -V, --version    Show version\n\n")

	fmt.Printf("EXAMPLES:\n")
	fmt.Printf("  # Build the sources listed in a file\n")
	fmt.Printf("  moondash stat --file sources.txt\n\n")

	fmt.Printf("  # Build one repository without reinstalling the toolchain\n")
	fmt.Printf("  moondash stat --repo-url https://github.com/moonbitlang/core --skip-install\n\n")

	fmt.Printf("  # Compare stable and bleeding for the latest run\n")
	fmt.Printf("  moondash query compare --changed\n\n")

	fmt.Printf("GETTING STARTED:\n")
	fmt.Printf("  1. Set up configuration:\n")
	fmt.Printf("       moondash config init\n\n")
	fmt.Printf("  2. Preview the resolved source list:\n")
	fmt.Printf("       moondash stat --file sources.txt --dry-run\n\n")
	fmt.Printf("  3. Run and serve the results:\n")
	fmt.Printf("       moondash stat --file sources.txt\n")
	fmt.Printf("       moondash serve\n\n")

	fmt.Printf("For detailed help on any command:\n")
	fmt.Printf("  moondash <command> --help\n")
}
