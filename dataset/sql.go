package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	name       TEXT PRIMARY KEY,
	csv        TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);`

// SQLSource reads datasets from a SQLite table datasets(name, csv).
type SQLSource struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at dbPath and ensures the
// datasets table exists. Use ":memory:" for an in-memory database.
func OpenSQLite(dbPath string) (*SQLSource, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLSource{db: db}, nil
}

func (s *SQLSource) Fetch(ctx context.Context, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}

	var text string
	err := s.db.QueryRowContext(ctx, `SELECT csv FROM datasets WHERE name = ?`, name).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("querying dataset %s: %w", name, err)
	}
	return text, nil
}

// Put inserts or replaces a dataset.
func (s *SQLSource) Put(ctx context.Context, name, text string) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO datasets (name, csv, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(name) DO UPDATE SET csv = excluded.csv, updated_at = excluded.updated_at`,
		name, text)
	if err != nil {
		return fmt.Errorf("storing dataset %s: %w", name, err)
	}
	return nil
}

// List returns stored dataset names in order.
func (s *SQLSource) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLSource) Close() error {
	return s.db.Close()
}
