package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikolaj2268/review-radar/internal/domain"
	"github.com/mikolaj2268/review-radar/internal/shared"
)

func TestOpenSQLite(t *testing.T) {
	cfg := shared.Config{StoreDriver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "r.db")}
	st, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	n, err := st.UpsertReviews(context.Background(), "App", []domain.ReviewRecord{{
		ReviewID: "1", Content: "hi", Score: 5, SubmittedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}})
	if err != nil || n != 1 {
		t.Fatalf("upsert n=%d err=%v", n, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), shared.Config{StoreDriver: "mongo"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
