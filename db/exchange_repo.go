package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/notebridge/domain"
)

var _ domain.ExchangeRepository = (*Repository)(nil)

// dbExchange is an exchange row. responded_at is null when the exchange never got an answer.
type dbExchange struct {
	ID           uuid.UUID    `db:"id"`
	Method       string       `db:"method"`
	Path         string       `db:"path"`
	TargetURL    string       `db:"target_url"`
	StatusCode   int          `db:"status_code"`
	RequestRaw   []byte       `db:"request_raw"`
	ResponseRaw  []byte       `db:"response_raw"`
	RequestBody  string       `db:"request_body"`
	ResponseBody string       `db:"response_body"`
	Error        string       `db:"error"`
	DurationNS   int64        `db:"duration_ns"`
	VideoTitle   string       `db:"video_title"`
	Metadata     Metadata     `db:"metadata"`
	RequestedAt  time.Time    `db:"requested_at"`
	RespondedAt  sql.NullTime `db:"responded_at"`
}

// dbExchangeSummary is the subset of columns used for listings.
type dbExchangeSummary struct {
	ID          uuid.UUID `db:"id"`
	Method      string    `db:"method"`
	Path        string    `db:"path"`
	StatusCode  int       `db:"status_code"`
	Error       string    `db:"error"`
	DurationNS  int64     `db:"duration_ns"`
	VideoTitle  string    `db:"video_title"`
	RequestedAt time.Time `db:"requested_at"`
}

func fromDomainExchange(e *domain.Exchange) *dbExchange {
	return &dbExchange{
		ID:           e.ID,
		Method:       e.Method,
		Path:         e.Path,
		TargetURL:    e.TargetURL,
		StatusCode:   e.StatusCode,
		RequestRaw:   e.RequestRaw,
		ResponseRaw:  e.ResponseRaw,
		RequestBody:  e.RequestBody,
		ResponseBody: e.ResponseBody,
		Error:        e.Error,
		DurationNS:   int64(e.Duration),
		VideoTitle:   e.VideoTitle,
		Metadata:     Metadata(e.Metadata),
		RequestedAt:  e.RequestedAt,
		RespondedAt: sql.NullTime{
			Time:  e.RespondedAt,
			Valid: !e.RespondedAt.IsZero(),
		},
	}
}

func toDomainExchange(row *dbExchange) *domain.Exchange {
	exchange := &domain.Exchange{
		ID:           row.ID,
		Method:       row.Method,
		Path:         row.Path,
		TargetURL:    row.TargetURL,
		StatusCode:   row.StatusCode,
		RequestRaw:   row.RequestRaw,
		ResponseRaw:  row.ResponseRaw,
		RequestBody:  row.RequestBody,
		ResponseBody: row.ResponseBody,
		Error:        row.Error,
		Duration:     time.Duration(row.DurationNS),
		VideoTitle:   row.VideoTitle,
		Metadata:     map[string]any(row.Metadata),
		RequestedAt:  row.RequestedAt,
	}

	if row.RespondedAt.Valid {
		exchange.RespondedAt = row.RespondedAt.Time
	}

	return exchange
}

// InsertExchange stores a completed exchange.
func (repo *Repository) InsertExchange(exchange *domain.Exchange) error {
	query := `INSERT INTO exchanges (id, method, path, target_url, status_code, request_raw, response_raw,
	              request_body, response_body, error, duration_ns, video_title, metadata, requested_at, responded_at)
	          VALUES (:id, :method, :path, :target_url, :status_code, :request_raw, :response_raw,
	              :request_body, :response_body, :error, :duration_ns, :video_title, :metadata, :requested_at, :responded_at)`

	if _, err := repo.dbConn.NamedExec(query, fromDomainExchange(exchange)); err != nil {
		return fmt.Errorf("inserting exchange %s : %w", exchange.ID, err)
	}
	return nil
}

// GetExchange returns the exchange with the given id.
func (repo *Repository) GetExchange(id uuid.UUID) (*domain.Exchange, error) {
	var row dbExchange
	query := `SELECT id, method, path, target_url, status_code, request_raw, response_raw, request_body,
	              response_body, error, duration_ns, video_title, metadata, requested_at, responded_at
	          FROM exchanges WHERE id = ?`

	err := repo.dbConn.Get(&row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("getting exchange %s : %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting exchange %s : %w", id, err)
	}

	return toDomainExchange(&row), nil
}

// GetExchangeSummaries lists exchanges newest first.
func (repo *Repository) GetExchangeSummaries(limit int) ([]*domain.ExchangeSummary, error) {
	var rows []*dbExchangeSummary
	query := `SELECT id, method, path, status_code, error, duration_ns, video_title, requested_at
	          FROM exchanges ORDER BY requested_at DESC, id DESC`

	var err error
	if limit > 0 {
		err = repo.dbConn.Select(&rows, query+` LIMIT ?`, limit)
	} else {
		err = repo.dbConn.Select(&rows, query)
	}
	if err != nil {
		return nil, fmt.Errorf("getting exchange summaries : %w", err)
	}

	summaries := make([]*domain.ExchangeSummary, len(rows))
	for i, row := range rows {
		summaries[i] = &domain.ExchangeSummary{
			ID:          row.ID,
			Method:      row.Method,
			Path:        row.Path,
			StatusCode:  row.StatusCode,
			Error:       row.Error,
			Duration:    time.Duration(row.DurationNS),
			VideoTitle:  row.VideoTitle,
			RequestedAt: row.RequestedAt,
		}
	}

	return summaries, nil
}

// UpdateExchangeMetadata replaces the metadata column of an exchange.
func (repo *Repository) UpdateExchangeMetadata(id uuid.UUID, metadata map[string]any) error {
	result, err := repo.dbConn.Exec(`UPDATE exchanges SET metadata = ? WHERE id = ?`, Metadata(metadata), id)
	if err != nil {
		return fmt.Errorf("updating metadata for %s : %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows : %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("updating metadata for %s : %w", id, domain.ErrNotFound)
	}
	return nil
}
