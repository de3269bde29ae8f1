package db

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/notebridge/domain"
)

func TestLogRepo_GetLogs(t *testing.T) {
	t.Run("should return 0 logs if there are none", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		got, err := repo.GetLogs()
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if len(got) != 0 {
			t.Fatalf("\nwanted:\n0\ngot:\n%d", len(got))
		}
	})

	t.Run("should return stored logs with their exchange and run ids", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		fixedTime := time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC)
		exchange := testExchange(t, repo, 200, fixedTime)
		run := &domain.BackendRun{ID: uuid.Must(uuid.NewV7()), State: "ready", StartedAt: fixedTime}
		if err := repo.InsertRun(run); err != nil {
			t.Fatalf("inserting run: %v", err)
		}

		logs := []*domain.Log{
			{
				ID:        uuid.MustParse("00000000-0000-0000-0000-000000000001"),
				Timestamp: fixedTime,
				Level:     "INFO",
				Message:   "backend ready",
				Context:   map[string]any{},
				RunID:     &run.ID,
			},
			{
				ID:         uuid.MustParse("00000000-0000-0000-0000-000000000002"),
				Timestamp:  fixedTime.Add(time.Second),
				Level:      "ERROR",
				Message:    "forwarding failed",
				Context:    map[string]any{"details": "connection refused"},
				ExchangeID: &exchange.ID,
			},
		}

		for _, entry := range logs {
			if err := repo.InsertLog(entry); err != nil {
				t.Fatalf("inserting log: %v", err)
			}
		}

		got, err := repo.GetLogs()
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if len(got) != 2 {
			t.Fatalf("\nwanted:\n2\ngot:\n%d", len(got))
		}

		for i := range logs {
			if got[i].ID != logs[i].ID || got[i].Level != logs[i].Level || got[i].Message != logs[i].Message {
				t.Fatalf("\nwanted:\n%+v\ngot:\n%+v", logs[i], got[i])
			}
			if !reflect.DeepEqual(got[i].Context, logs[i].Context) {
				t.Fatalf("\nwanted:\n%v\ngot:\n%v", logs[i].Context, got[i].Context)
			}
		}

		if got[0].RunID == nil || *got[0].RunID != run.ID || got[0].ExchangeID != nil {
			t.Fatalf("\nwanted:\nrun id %v\ngot:\n%v %v", run.ID, got[0].RunID, got[0].ExchangeID)
		}

		if got[1].ExchangeID == nil || *got[1].ExchangeID != exchange.ID {
			t.Fatalf("\nwanted:\nexchange id %v\ngot:\n%v", exchange.ID, got[1].ExchangeID)
		}
	})
}

func TestLogRepo_GetLogsByLevel(t *testing.T) {
	t.Run("should only return logs of the requested level", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		fixedTime := time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC)
		for i, level := range []string{"INFO", "WARN", "INFO"} {
			entry := &domain.Log{
				ID:        uuid.Must(uuid.NewV7()),
				Timestamp: fixedTime.Add(time.Duration(i) * time.Second),
				Level:     level,
				Message:   "message",
			}
			if err := repo.InsertLog(entry); err != nil {
				t.Fatalf("inserting log: %v", err)
			}
		}

		got, err := repo.GetLogsByLevel("INFO")
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if len(got) != 2 {
			t.Fatalf("\nwanted:\n2\ngot:\n%d", len(got))
		}
	})
}

func TestLogRepo_InsertLog(t *testing.T) {
	t.Run("should reject an unknown level", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		err := repo.InsertLog(&domain.Log{
			ID:        uuid.Must(uuid.NewV7()),
			Timestamp: time.Now(),
			Level:     "TRACE",
			Message:   "message",
		})
		if err == nil {
			t.Fatalf("\nwanted:\nerror\ngot:\nnil")
		}

		if !strings.Contains(err.Error(), "inserting log") {
			t.Fatalf("\nwanted:\ninserting log error\ngot:\n%v", err)
		}
	})
}
