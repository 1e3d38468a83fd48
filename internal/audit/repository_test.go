package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golnet1/majordomo-bridge/internal/infrastructure/database"
	_ "github.com/golnet1/majordomo-bridge/migrations" // register embedded schema
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "bridge.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	return NewSQLiteRepository(db.DB)
}

func TestCreateAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	recs := []Record{
		{CorrelationID: "c-1", Source: "mcp", Action: "control_device", Target: "улица", Object: "Relay01", Property: "status", Status: "ok"},
		{CorrelationID: "c-2", Source: "telegram", Action: "get_sensor_value", Target: "парная", Status: "ambiguous"},
		{CorrelationID: "c-3", Source: "mcp", Action: "run_script", Target: "утро", Status: "controller_error"},
	}
	for i := range recs {
		if err := repo.Create(ctx, &recs[i]); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if recs[i].ID == "" {
			t.Fatal("Create did not assign an ID")
		}
	}

	t.Run("unfiltered", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if res.Total != 3 || len(res.Records) != 3 {
			t.Errorf("total = %d, records = %d, want 3/3", res.Total, len(res.Records))
		}
	})

	t.Run("by source", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{Source: "mcp"})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if res.Total != 2 {
			t.Errorf("total = %d, want 2", res.Total)
		}
	})

	t.Run("by status", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{Status: "controller_error"})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if res.Total != 1 || res.Records[0].CorrelationID != "c-3" {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("by correlation", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{CorrelationID: "c-2"})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if res.Total != 1 || res.Records[0].Source != "telegram" {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("default user", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{CorrelationID: "c-1"})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if res.Records[0].User != "system" {
			t.Errorf("user = %q, want system", res.Records[0].User)
		}
	})
}

func TestListPagination(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := Record{
			CorrelationID: "c",
			Source:        "mcp",
			Action:        "control_device",
			Target:        "улица",
			Status:        "ok",
			CreatedAt:     time.Date(2026, 8, 1, 12, i, 0, 0, time.UTC),
		}
		if err := repo.Create(ctx, &rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 5 {
		t.Errorf("total = %d, want 5", res.Total)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(res.Records))
	}
	// Newest first: offset 2 of 5 lands on minute 2.
	if got := res.Records[0].CreatedAt.Minute(); got != 2 {
		t.Errorf("first record minute = %d, want 2", got)
	}
}

func TestPrune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := Record{
		CorrelationID: "c-old", Source: "mcp", Action: "control_device",
		Target: "улица", Status: "ok",
		CreatedAt: time.Now().UTC().AddDate(0, 0, -45),
	}
	fresh := Record{
		CorrelationID: "c-new", Source: "mcp", Action: "control_device",
		Target: "улица", Status: "ok",
	}
	if err := repo.Create(ctx, &old); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, &fresh); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := repo.Prune(ctx, time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 1 || res.Records[0].CorrelationID != "c-new" {
		t.Errorf("surviving records wrong: %+v", res)
	}
}
