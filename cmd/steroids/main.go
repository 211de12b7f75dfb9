// Command steroids is the CLI surface named in spec §6: a thin binary that
// wires the State Store (C1), Lease Manager (C2), Provider Adapter (C3),
// Phase Driver (C6), Task Selector (C5) and Wakeup Controller (C7) into
// runnable subcommands. No Cobra/Viper — unadorned `flag` plus a subcommand
// switch, the same style control_plane/main.go uses for its own env-var
// driven startup (see SPEC_FULL.md's AMBIENT STACK note).
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitGeneralError
	}

	switch args[0] {
	case "init":
		return cmdInit(args[1:])
	case "runners":
		return cmdRunners(args[1:])
	case "wakeup":
		return cmdWakeup(args[1:])
	case "projects":
		return cmdProjects(args[1:])
	case "incidents":
		return cmdIncidents(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "steroids: unknown command %q\n", args[0])
		printUsage()
		return exitGeneralError
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: steroids <command> [flags]

commands:
  init --project <path>                       create a project's .steroids database
  runners start --project <path> [--parallel] run the scheduler loop against a project
  wakeup [--dry-run] [--quiet]                 single-shot discovery pass across registered projects
  projects add <path> [--name NAME]           register a project in the global database
  projects list                               list registered projects
  incidents list [--project <path>]           list active (unresolved) credit-exhaustion incidents
  incidents resolve <id> [--resolution R]     clear an incident (dismissed|retry|config_changed|manual)`)
}

// defaultHomeDir returns the global state directory (~/.steroids), per §6
// "Global state layout".
func defaultHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("steroids: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".steroids"), nil
}

func projectDBPath(projectPath string) string {
	return filepath.Join(projectPath, ".steroids", "steroids.db")
}

func projectInitialized(projectPath string) bool {
	_, err := os.Stat(projectDBPath(projectPath))
	return err == nil
}
