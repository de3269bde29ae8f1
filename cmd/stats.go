package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/notebridge/db"
	"github.com/tfkr-ae/notebridge/domain"
)

func newStatsCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print counts of the stored data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withRepository(func(repo *db.Repository) error {
				stats, err := loadStats(repo)
				if err != nil {
					return err
				}

				if asJSON {
					return writeJSON(cmd, stats)
				}

				_, err = fmt.Fprintf(cmd.OutOrStdout(), "exchanges: %d\nfailed exchanges: %d\nbackend runs: %d\nlogs: %d\n",
					stats.Exchanges, stats.FailedExchanges, stats.Runs, stats.Logs)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func loadStats(repo domain.StatsRepository) (domain.Stats, error) {
	var (
		stats domain.Stats
		err   error
	)

	if stats.Exchanges, err = repo.CountExchanges(); err != nil {
		return stats, fmt.Errorf("count exchanges: %w", err)
	}
	if stats.FailedExchanges, err = repo.CountFailedExchanges(); err != nil {
		return stats, fmt.Errorf("count failed exchanges: %w", err)
	}
	if stats.Runs, err = repo.CountRuns(); err != nil {
		return stats, fmt.Errorf("count runs: %w", err)
	}
	if stats.Logs, err = repo.CountLogs(); err != nil {
		return stats, fmt.Errorf("count logs: %w", err)
	}
	return stats, nil
}
