package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/notebridge/db"
)

func newRunsCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List backend launches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withRepository(func(repo *db.Repository) error {
				runs, err := repo.GetRuns()
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}

				if asJSON {
					return writeJSON(cmd, runs)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTARTED\tSTATE\tPID\tEXIT\tCOMMAND\tERROR")
				for _, run := range runs {
					exit := "-"
					if run.ExitCode != nil {
						exit = fmt.Sprint(*run.ExitCode)
					}
					command := run.Command
					if command == "" {
						command = "(attached)"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
						run.ID,
						run.StartedAt.Local().Format(time.DateTime),
						run.State,
						run.PID,
						exit,
						command,
						run.Error,
					)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}
