package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/notebridge/domain"
)

var _ domain.RunRepository = (*Repository)(nil)

type dbRun struct {
	ID        uuid.UUID     `db:"id"`
	Command   string        `db:"command"`
	Dir       string        `db:"dir"`
	PID       int           `db:"pid"`
	State     string        `db:"state"`
	StartedAt time.Time     `db:"started_at"`
	ReadyAt   sql.NullTime  `db:"ready_at"`
	ExitedAt  sql.NullTime  `db:"exited_at"`
	ExitCode  sql.NullInt64 `db:"exit_code"`
	Error     string        `db:"error"`
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromDomainRun(run *domain.BackendRun) *dbRun {
	row := &dbRun{
		ID:        run.ID,
		Command:   run.Command,
		Dir:       run.Dir,
		PID:       run.PID,
		State:     run.State,
		StartedAt: run.StartedAt,
		ReadyAt:   nullTime(run.ReadyAt),
		ExitedAt:  nullTime(run.ExitedAt),
		Error:     run.Error,
	}

	if run.ExitCode != nil {
		row.ExitCode = sql.NullInt64{Int64: int64(*run.ExitCode), Valid: true}
	}

	return row
}

func toDomainRun(row *dbRun) *domain.BackendRun {
	run := &domain.BackendRun{
		ID:        row.ID,
		Command:   row.Command,
		Dir:       row.Dir,
		PID:       row.PID,
		State:     row.State,
		StartedAt: row.StartedAt,
		Error:     row.Error,
	}

	if row.ReadyAt.Valid {
		readyAt := row.ReadyAt.Time
		run.ReadyAt = &readyAt
	}

	if row.ExitedAt.Valid {
		exitedAt := row.ExitedAt.Time
		run.ExitedAt = &exitedAt
	}

	if row.ExitCode.Valid {
		code := int(row.ExitCode.Int64)
		run.ExitCode = &code
	}

	return run
}

// InsertRun stores a new backend run.
func (repo *Repository) InsertRun(run *domain.BackendRun) error {
	query := `INSERT INTO backend_runs (id, command, dir, pid, state, started_at, ready_at, exited_at, exit_code, error)
	          VALUES (:id, :command, :dir, :pid, :state, :started_at, :ready_at, :exited_at, :exit_code, :error)`

	if _, err := repo.dbConn.NamedExec(query, fromDomainRun(run)); err != nil {
		return fmt.Errorf("inserting run %s : %w", run.ID, err)
	}
	return nil
}

// UpdateRun overwrites the mutable columns of a run.
func (repo *Repository) UpdateRun(run *domain.BackendRun) error {
	query := `UPDATE backend_runs
	          SET pid = :pid, state = :state, ready_at = :ready_at, exited_at = :exited_at,
	              exit_code = :exit_code, error = :error
	          WHERE id = :id`

	result, err := repo.dbConn.NamedExec(query, fromDomainRun(run))
	if err != nil {
		return fmt.Errorf("updating run %s : %w", run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows : %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("updating run %s : %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

// GetRun returns a single run.
func (repo *Repository) GetRun(id uuid.UUID) (*domain.BackendRun, error) {
	var row dbRun
	err := repo.dbConn.Get(&row, `SELECT * FROM backend_runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("getting run %s : %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting run %s : %w", id, err)
	}
	return toDomainRun(&row), nil
}

// GetRuns returns every run, newest first.
func (repo *Repository) GetRuns() ([]*domain.BackendRun, error) {
	var rows []*dbRun
	if err := repo.dbConn.Select(&rows, `SELECT * FROM backend_runs ORDER BY started_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("getting runs : %w", err)
	}

	runs := make([]*domain.BackendRun, len(rows))
	for i, row := range rows {
		runs[i] = toDomainRun(row)
	}
	return runs, nil
}
