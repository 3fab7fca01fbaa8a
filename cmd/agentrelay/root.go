package main

import "github.com/spf13/cobra"

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:           "agentrelay",
		Short:         "Bridge chat conversations and workflows to coding agent runtimes",
		Long:          "agentrelay keeps one agent session per conversation, runs multi-task workflows on a bounded pool of disposable sessions, and streams agent output back to its callers.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ., ~/.agentrelay, /etc/agentrelay)")

	rootCmd.AddCommand(
		newServeCmd(&cfgPath),
		newChatCmd(&cfgPath),
		newWorkflowsCmd(&cfgPath),
	)
	return rootCmd
}
