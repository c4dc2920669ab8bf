package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var (
		envFile  string
		logLevel string
		jsonOut  bool
	)

	ctx := newCommandContext(&envFile, &logLevel, &jsonOut)

	rootCmd := &cobra.Command{
		Use:           "sheetimport",
		Short:         "Import spreadsheet rows into the content store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.loadEnv()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file (default: .env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Write machine readable JSON to stdout")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newFieldsCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newValidateMappingCommand(ctx))

	return rootCmd
}
