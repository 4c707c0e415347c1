package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Model Context Protocol integration",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve runs and breakpoints as MCP tools over stdio",
	Long: `Start an MCP server on stdin/stdout. Agent hosts can list processes and runs,
inspect a run's journal, and approve or reject pending breakpoints.

Logs go to stderr so they never interleave with the protocol stream.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetLogOutput(os.Stderr)

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		registry, err := a.processes()
		if err != nil {
			return err
		}
		store, err := a.runStore(cmd.Context())
		if err != nil {
			return err
		}
		return mcp.New(registry, store).Serve(cmd.Context(), os.Stdin, os.Stdout)
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
}
