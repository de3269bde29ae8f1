package db

import (
	"fmt"

	"github.com/tfkr-ae/notebridge/domain"
)

var _ domain.StatsRepository = (*Repository)(nil)

func (repo *Repository) count(query, what string) (int, error) {
	var count int
	if err := repo.dbConn.Get(&count, query); err != nil {
		return 0, fmt.Errorf("getting %s count : %w", what, err)
	}
	return count, nil
}

// CountExchanges returns the number of stored exchanges.
func (repo *Repository) CountExchanges() (int, error) {
	return repo.count(`SELECT COUNT(*) FROM exchanges`, "exchange")
}

// CountFailedExchanges returns the number of exchanges that errored or answered with a 5xx status.
func (repo *Repository) CountFailedExchanges() (int, error) {
	return repo.count(`SELECT COUNT(*) FROM exchanges WHERE error != '' OR status_code >= 500`, "failed exchange")
}

// CountRuns returns the number of backend runs.
func (repo *Repository) CountRuns() (int, error) {
	return repo.count(`SELECT COUNT(*) FROM backend_runs`, "run")
}

// CountLogs returns the number of log entries.
func (repo *Repository) CountLogs() (int, error) {
	return repo.count(`SELECT COUNT(*) FROM logs`, "log")
}
