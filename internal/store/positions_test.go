package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// setupTestStore creates an in-memory store with the schema initialized.
func setupTestStore(t *testing.T) *Positions {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	p, err := New(db)
	if err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return p
}

func TestLoad_Empty(t *testing.T) {
	p := setupTestStore(t)

	sec, ok, err := p.Load(context.Background(), "http://h/podcasts/daily/a.mp3")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ok || sec != 0 {
		t.Errorf("expected no position, got %d (ok=%v)", sec, ok)
	}
}

func TestSaveLoad_Overwrites(t *testing.T) {
	p := setupTestStore(t)
	ctx := context.Background()
	uri := "http://h/podcasts/daily/a.mp3"

	if err := p.Save(ctx, uri, 120); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := p.Save(ctx, uri, 754); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sec, ok, err := p.Load(ctx, uri)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !ok || sec != 754 {
		t.Errorf("expected 754, got %d (ok=%v)", sec, ok)
	}
}

func TestSave_NegativeClampsToZero(t *testing.T) {
	p := setupTestStore(t)
	ctx := context.Background()

	if err := p.Save(ctx, "u", -10); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	sec, ok, _ := p.Load(ctx, "u")
	if !ok || sec != 0 {
		t.Errorf("expected 0, got %d (ok=%v)", sec, ok)
	}
}

func TestForget(t *testing.T) {
	p := setupTestStore(t)
	ctx := context.Background()

	_ = p.Save(ctx, "u", 30)
	if err := p.Forget(ctx, "u"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if _, ok, _ := p.Load(ctx, "u"); ok {
		t.Error("expected position to be gone")
	}
}

func TestPrune(t *testing.T) {
	p := setupTestStore(t)
	ctx := context.Background()

	if _, err := p.db.Exec(`INSERT INTO positions (uri, seconds, updated_at) VALUES ('old', 5, ?)`,
		time.Now().Add(-90*24*time.Hour).Unix()); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	_ = p.Save(ctx, "fresh", 9)

	n, err := p.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}
	if _, ok, _ := p.Load(ctx, "fresh"); !ok {
		t.Error("fresh position should survive")
	}
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "positions.db")
	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	if err := p.Save(context.Background(), "u", 1); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}
