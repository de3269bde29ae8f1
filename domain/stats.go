package domain

// StatsRepository defines the interface for retrieving counts about the stored data.
type StatsRepository interface {
	// CountExchanges returns the total number of stored exchanges.
	CountExchanges() (int, error)
	// CountFailedExchanges returns the number of exchanges with an error or a 5xx status.
	CountFailedExchanges() (int, error)
	// CountRuns returns the number of backend launches and attaches.
	CountRuns() (int, error)
	// CountLogs returns the number of log entries.
	CountLogs() (int, error)
}

// Stats aggregates the repository counters.
type Stats struct {
	Exchanges       int `json:"exchanges"`
	FailedExchanges int `json:"failedExchanges"`
	Runs            int `json:"runs"`
	Logs            int `json:"logs"`
}
