// Package main provides the CLI entry point for the Loom session gateway.
//
// Loom serves a branching-conversation chat backend: a websocket session
// protocol over per-conversation agents that stream model output, execute
// tools, and persist conversation trees.
//
// # Basic Usage
//
// Start the server:
//
//	loom serve --config loom.yaml
//
// Chat against a running server:
//
//	loom chat --url ws://localhost:8080/ws
//
// List stored conversations:
//
//	loom sessions list
//
// # Environment Variables
//
//   - LOOM_CONFIG: Path to configuration file (default: loom.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - LOOM_MODEL: Override the configured model
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Loom - branching conversation session gateway",
		Long: `Loom serves a chat backend where conversations are trees: editing a message
creates a sibling branch instead of overwriting history, and every client
stays in sync through an event-sourced session protocol.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildSessionsCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("LOOM_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("loom.yaml"); err == nil {
		return "loom.yaml"
	}
	return ""
}
