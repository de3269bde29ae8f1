// Package cmd implements the notebridge command line.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	app := &app{viper: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "notebridge",
		Short:         "notebridge: gateway in front of the learning note backend",
		Long:          "notebridge launches the note backend on the first request, forwards the note form's requests to it and records every exchange, backend run and log entry in a local SQLite database.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&app.configDir, "config-dir", defaultConfigDir(), "directory holding config.yaml and the database")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(app),
		newStatusCmd(app),
		newExchangesCmd(app),
		newRunsCmd(app),
		newLogsCmd(app),
		newStatsCmd(app),
		newConfigCmd(app),
	)

	return rootCmd
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "notebridge")
	}
	return ".notebridge"
}
