// Package cli is the connector-chat command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/connector-chat/server/pkg/config"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

func Execute() error {
	return newRootCmd(defaultRuntime()).Execute()
}

func newRootCmd(rt runtime) *cobra.Command {
	var (
		envFile string
		debug   bool
	)

	rootCmd := &cobra.Command{
		Use:           "connector-chat",
		Short:         "Chat with an agent that reads Gong, HubSpot and Linear",
		Long:          "connector-chat runs a tool-calling chat agent over hosted connectors, either as an HTTP server with a web UI or as a terminal chat.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				config.SetEnvFile(envFile)
			}
			return initLogging(debug)
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load (default: ./.env when present)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(rt),
		newChatCmd(rt),
		newWidgetTokenCmd(rt),
	)
	return rootCmd
}
