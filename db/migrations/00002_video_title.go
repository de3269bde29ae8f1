package migrations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

func init() {
	goose.AddMigrationContext(upAddVideoTitle, downAddVideoTitle)
}

// upAddVideoTitle adds the video_title column and fills it from the stored response bodies.
func upAddVideoTitle(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `ALTER TABLE exchanges ADD COLUMN video_title TEXT NOT NULL DEFAULT ''`)
	if err != nil {
		return fmt.Errorf("adding video_title column : %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, response_body FROM exchanges WHERE response_body != ''`)
	if err != nil {
		return fmt.Errorf("getting exchanges with a response body : %w", err)
	}

	titles := make(map[string]string)
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			rows.Close()
			return fmt.Errorf("scanning row : %w", err)
		}

		var note struct {
			VideoTitle string `json:"videoTitle"`
		}
		if json.Unmarshal([]byte(body), &note) != nil || note.VideoTitle == "" {
			continue
		}
		titles[id] = note.VideoTitle
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterating rows : %w", err)
	}
	rows.Close()

	for id, title := range titles {
		_, err := tx.ExecContext(ctx, `UPDATE exchanges SET video_title = ? WHERE id = ?`, title, id)
		if err != nil {
			return fmt.Errorf("updating row %s : %w", id, err)
		}
	}

	return nil
}

func downAddVideoTitle(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE exchanges DROP COLUMN video_title`); err != nil {
		return fmt.Errorf("dropping video_title column : %w", err)
	}
	return nil
}
