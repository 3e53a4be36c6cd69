package main

import (
	"github.com/spf13/cobra"
)

type globalFlags struct {
	logLevel  string
	logFormat string
}

func newRootCommand() *cobra.Command {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:           "dataset-cleaner",
		Short:         "Clean image datasets for training",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "console", "Log format (console or json)")

	rootCmd.AddCommand(newCleanCommand(&g))
	rootCmd.AddCommand(newModesCommand())

	return rootCmd
}
