package cmd

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/notebridge/db"
	"github.com/tfkr-ae/notebridge/domain"
)

var logLevels = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func newLogsCmd(app *app) *cobra.Command {
	var (
		level  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List stored log entries, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level = strings.ToUpper(level)
			if level != "" && !slices.Contains(logLevels, level) {
				return fmt.Errorf("unknown level %q, expected one of %s", level, strings.Join(logLevels, ", "))
			}

			return app.withRepository(func(repo *db.Repository) error {
				var (
					logs []*domain.Log
					err  error
				)
				if level == "" {
					logs, err = repo.GetLogs()
				} else {
					logs, err = repo.GetLogsByLevel(level)
				}
				if err != nil {
					return fmt.Errorf("list logs: %w", err)
				}

				if asJSON {
					return writeJSON(cmd, logs)
				}

				out := cmd.OutOrStdout()
				for _, entry := range logs {
					line := fmt.Sprintf("%s %-5s %s", entry.Timestamp.Local().Format(time.DateTime), entry.Level, entry.Message)
					if entry.ExchangeID != nil {
						line += " exchange=" + entry.ExchangeID.String()
					}
					if entry.RunID != nil {
						line += " run=" + entry.RunID.String()
					}
					if _, err := fmt.Fprintln(out, line); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&level, "level", "", "only show entries with this level")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}
