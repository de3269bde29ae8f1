package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/notebridge/domain"
)

var _ domain.LogRepository = (*Repository)(nil)

// dbLog represents a log entry as stored in the database.
type dbLog struct {
	ID         uuid.UUID      `db:"id"`
	Timestamp  time.Time      `db:"timestamp"`
	Level      string         `db:"level"`
	Message    string         `db:"message"`
	Context    Metadata       `db:"context"`
	ExchangeID sql.NullString `db:"exchange_id"`
	RunID      sql.NullString `db:"run_id"`
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func parseNullUUID(s sql.NullString) *uuid.UUID {
	if !s.Valid {
		return nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil
	}
	return &id
}

func toDomainLog(row *dbLog) *domain.Log {
	return &domain.Log{
		ID:         row.ID,
		Timestamp:  row.Timestamp,
		Level:      row.Level,
		Message:    row.Message,
		Context:    map[string]any(row.Context),
		ExchangeID: parseNullUUID(row.ExchangeID),
		RunID:      parseNullUUID(row.RunID),
	}
}

func fromDomainLog(log *domain.Log) *dbLog {
	return &dbLog{
		ID:         log.ID,
		Timestamp:  log.Timestamp,
		Level:      log.Level,
		Message:    log.Message,
		Context:    Metadata(log.Context),
		ExchangeID: nullUUID(log.ExchangeID),
		RunID:      nullUUID(log.RunID),
	}
}

// InsertLog saves a new log entry to the database.
func (repo *Repository) InsertLog(log *domain.Log) error {
	query := `INSERT INTO logs (id, level, timestamp, message, context, exchange_id, run_id)
	          VALUES (:id, :level, :timestamp, :message, :context, :exchange_id, :run_id)`

	if _, err := repo.dbConn.NamedExec(query, fromDomainLog(log)); err != nil {
		return fmt.Errorf("inserting log %s : %w", log.ID, err)
	}
	return nil
}

// GetLogs retrieves all log entries from the database.
func (repo *Repository) GetLogs() ([]*domain.Log, error) {
	return repo.selectLogs(`SELECT * FROM logs ORDER BY timestamp, id`)
}

// GetLogsByLevel retrieves the log entries with the given level.
func (repo *Repository) GetLogsByLevel(level string) ([]*domain.Log, error) {
	return repo.selectLogs(`SELECT * FROM logs WHERE level = ? ORDER BY timestamp, id`, level)
}

func (repo *Repository) selectLogs(query string, args ...any) ([]*domain.Log, error) {
	var rows []*dbLog
	if err := repo.dbConn.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("fetching logs : %w", err)
	}

	logs := make([]*domain.Log, len(rows))
	for i, row := range rows {
		logs[i] = toDomainLog(row)
	}
	return logs, nil
}
