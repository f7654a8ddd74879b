package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store caches run records in a local sqlite database so history can be
// browsed while the daemon is offline. The cache is advisory: a nil *Store
// is a valid "no cache" value and every method on it is a no-op.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (creating if needed) the cache database at dbPath.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create cache directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open cache database: %w", err)
	}

	// Single connection: sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache migration failed: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		sandbox_id   TEXT PRIMARY KEY,
		profile_name TEXT NOT NULL,
		start_time   TEXT,
		duration     TEXT,
		exit_code    INTEGER DEFAULT 0,
		denied       TEXT,
		fetched_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_fetched ON runs(fetched_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveAll upserts a refreshed batch of records.
func (s *Store) SaveAll(ctx context.Context, records []Record) error {
	if s == nil {
		return nil
	}
	now := time.Now()
	for _, r := range records {
		if err := s.save(ctx, r, now); err != nil {
			return err
		}
	}
	return nil
}

// Save upserts one record.
func (s *Store) Save(ctx context.Context, r Record) error {
	if s == nil {
		return nil
	}
	return s.save(ctx, r, time.Now())
}

func (s *Store) save(ctx context.Context, r Record, fetchedAt time.Time) error {
	denied, err := json.Marshal(r.Denied)
	if err != nil {
		return fmt.Errorf("encode denied list: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (sandbox_id, profile_name, start_time, duration, exit_code, denied, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sandbox_id) DO UPDATE SET
		   profile_name=excluded.profile_name,
		   start_time=excluded.start_time,
		   duration=excluded.duration,
		   exit_code=excluded.exit_code,
		   denied=excluded.denied,
		   fetched_at=excluded.fetched_at`,
		r.SandboxID, r.ProfileName, r.StartTime, r.Duration, r.ExitCode, string(denied), fetchedAt,
	)
	return err
}

// List returns cached records, newest fetch first, optionally filtered by a
// substring of the sandbox id or profile name.
func (s *Store) List(ctx context.Context, filter string, limit int) ([]Record, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT sandbox_id, profile_name, start_time, duration, exit_code, denied
	          FROM runs`
	args := []any{}
	if filter != "" {
		query += ` WHERE sandbox_id LIKE ? OR profile_name LIKE ?`
		pattern := "%" + filter + "%"
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY fetched_at DESC, sandbox_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var denied sql.NullString
		if err := rows.Scan(&r.SandboxID, &r.ProfileName, &r.StartTime, &r.Duration, &r.ExitCode, &denied); err != nil {
			return nil, err
		}
		if denied.Valid && denied.String != "" && denied.String != "null" {
			if err := json.Unmarshal([]byte(denied.String), &r.Denied); err != nil {
				s.logger.Warn("cached denied list unreadable, dropping", "sandbox_id", r.SandboxID, "err", err)
				r.Denied = nil
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
