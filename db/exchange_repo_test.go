package db

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/notebridge/domain"
)

func TestExchangeRepo_GetExchange(t *testing.T) {
	t.Run("should return the stored exchange", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		want := testExchange(t, repo, 200, time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC))

		got, err := repo.GetExchange(want.ID)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if got.ID != want.ID || got.Method != want.Method || got.Path != want.Path || got.TargetURL != want.TargetURL {
			t.Fatalf("\nwanted:\n%+v\ngot:\n%+v", want, got)
		}

		if string(got.RequestRaw) != string(want.RequestRaw) || string(got.ResponseRaw) != string(want.ResponseRaw) {
			t.Fatalf("\nwanted:\n%s\n%s\ngot:\n%s\n%s", want.RequestRaw, want.ResponseRaw, got.RequestRaw, got.ResponseRaw)
		}

		if got.ResponseBody != want.ResponseBody || got.Duration != want.Duration || got.VideoTitle != want.VideoTitle {
			t.Fatalf("\nwanted:\n%+v\ngot:\n%+v", want, got)
		}

		if !got.RequestedAt.Equal(want.RequestedAt) || !got.RespondedAt.Equal(want.RespondedAt) {
			t.Fatalf("\nwanted:\n%v %v\ngot:\n%v %v", want.RequestedAt, want.RespondedAt, got.RequestedAt, got.RespondedAt)
		}

		if !reflect.DeepEqual(got.Metadata, want.Metadata) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", want.Metadata, got.Metadata)
		}
	})

	t.Run("should return ErrNotFound for an unknown id", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		_, err := repo.GetExchange(uuid.New())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", domain.ErrNotFound, err)
		}
	})

	t.Run("should keep an exchange that never got a response", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		exchange := &domain.Exchange{
			ID:          uuid.Must(uuid.NewV7()),
			Method:      "POST",
			Path:        "/api",
			StatusCode:  500,
			Error:       "dial tcp 127.0.0.1:8000: connection refused",
			RequestedAt: time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC),
		}

		if err := repo.InsertExchange(exchange); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		got, err := repo.GetExchange(exchange.ID)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if !got.RespondedAt.IsZero() {
			t.Fatalf("\nwanted:\nzero time\ngot:\n%v", got.RespondedAt)
		}

		if !got.Failed() {
			t.Fatalf("\nwanted:\nfailed exchange\ngot:\n%+v", got)
		}

		if len(got.Metadata) != 0 {
			t.Fatalf("\nwanted:\nempty metadata\ngot:\n%v", got.Metadata)
		}
	})
}

func TestExchangeRepo_GetExchangeSummaries(t *testing.T) {
	t.Run("should list exchanges newest first and honour the limit", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		base := time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC)
		first := testExchange(t, repo, 200, base)
		second := testExchange(t, repo, 400, base.Add(time.Minute))
		third := testExchange(t, repo, 500, base.Add(2*time.Minute))

		all, err := repo.GetExchangeSummaries(0)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		wantOrder := []uuid.UUID{third.ID, second.ID, first.ID}
		if len(all) != len(wantOrder) {
			t.Fatalf("\nwanted:\n%d\ngot:\n%d", len(wantOrder), len(all))
		}
		for i, id := range wantOrder {
			if all[i].ID != id {
				t.Fatalf("\nwanted:\n%v\ngot:\n%v", id, all[i].ID)
			}
		}

		limited, err := repo.GetExchangeSummaries(2)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if len(limited) != 2 {
			t.Fatalf("\nwanted:\n2\ngot:\n%d", len(limited))
		}

		if limited[0].StatusCode != 500 || limited[0].VideoTitle != "Title" {
			t.Fatalf("\nwanted:\n500 Title\ngot:\n%d %s", limited[0].StatusCode, limited[0].VideoTitle)
		}
	})
}

func TestExchangeRepo_UpdateExchangeMetadata(t *testing.T) {
	t.Run("should replace the metadata", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		exchange := testExchange(t, repo, 200, time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC))
		want := map[string]any{"exported": true}

		if err := repo.UpdateExchangeMetadata(exchange.ID, want); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		got, err := repo.GetExchange(exchange.ID)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if !reflect.DeepEqual(want, got.Metadata) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", want, got.Metadata)
		}
	})

	t.Run("should return ErrNotFound for an unknown id", func(t *testing.T) {
		repo, teardown := setupTestDB(t)
		defer teardown()

		err := repo.UpdateExchangeMetadata(uuid.New(), map[string]any{"a": "b"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", domain.ErrNotFound, err)
		}
	})
}
