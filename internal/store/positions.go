// Package store keeps episode resume positions in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	appName    = "sonosdeck"
	dbFileName = "positions.db"
)

// Positions is a resume-point table keyed by episode URI.
type Positions struct {
	db *sql.DB
}

// DefaultPath is $XDG_DATA_HOME/sonosdeck/positions.db.
func DefaultPath() (string, error) {
	return xdg.DataFile(filepath.Join(appName, dbFileName))
}

// Open opens (creating if needed) the database at path. An empty path uses
// DefaultPath.
func Open(path string) (*Positions, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve state path: %w", err)
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Positions{db: db}, nil
}

// New wraps an already open database and ensures the schema.
func New(db *sql.DB) (*Positions, error) {
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &Positions{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			uri        TEXT PRIMARY KEY,
			seconds    INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (p *Positions) Close() error {
	return p.db.Close()
}

// Save records seconds as the resume point of uri, replacing any earlier one.
func (p *Positions) Save(ctx context.Context, uri string, seconds int) error {
	if seconds < 0 {
		seconds = 0
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO positions (uri, seconds, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET seconds = excluded.seconds, updated_at = excluded.updated_at
	`, uri, seconds, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// Load returns the stored resume point of uri. ok is false when none exists.
func (p *Positions) Load(ctx context.Context, uri string) (seconds int, ok bool, err error) {
	err = p.db.QueryRowContext(ctx, `SELECT seconds FROM positions WHERE uri = ?`, uri).Scan(&seconds)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load position: %w", err)
	}
	return seconds, true, nil
}

// Forget drops the resume point of uri.
func (p *Positions) Forget(ctx context.Context, uri string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM positions WHERE uri = ?`, uri); err != nil {
		return fmt.Errorf("forget position: %w", err)
	}
	return nil
}

// Prune deletes entries older than maxAge and returns how many were removed.
func (p *Positions) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := p.db.ExecContext(ctx, `DELETE FROM positions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune positions: %w", err)
	}
	return res.RowsAffected()
}
