package main

import (
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Loom session gateway",
		Long: `Start the gateway server.

The server will:
1. Load configuration from the specified file (or loom.yaml)
2. Open the conversation store
3. Initialize the model provider and tool registry
4. Serve the websocket session protocol on /ws, health on /healthz,
   and Prometheus metrics on /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  loom serve

  # Start with custom config
  loom serve --config /etc/loom/production.yaml

  # Start with debug logging
  loom serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}

func buildChatCmd() *cobra.Command {
	var (
		url            string
		conversationID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running gateway",
		Long: `Open an interactive chat session over the websocket protocol.

Each line you type is sent as a user message; streamed model output is
printed as it arrives. The conversation tree is kept client-side, so
reconnecting with the same conversation id resumes where you left off.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), url, conversationID)
		},
	}

	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:8080/ws", "Gateway websocket URL")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id to resume (default: new)")

	return cmd
}

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored conversations",
	}

	var (
		configPath string
		limit      int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd.Context(), resolveConfigPath(configPath), limit)
		},
	}
	listCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of conversations to list")

	cmd.AddCommand(listCmd)
	return cmd
}
