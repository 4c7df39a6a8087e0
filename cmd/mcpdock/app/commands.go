// Package app provides the entry point for the mcpdock command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpdock/mcpdock/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "mcpdock",
	DisableAutoGenTag: true,
	Short:             "mcpdock manages short-lived MCP servers on Kubernetes or a local container engine",
	Long: `mcpdock is an orchestration core for MCP (Model Context Protocol) servers.
It provisions each server as an isolated compute unit, preferring a Kubernetes
cluster and falling back to a local Docker/Podman engine, and bridges the
server's JSON-RPC streams to callers over a small HTTP lifecycle API.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the mcpdock CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
