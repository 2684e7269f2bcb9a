package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS replay_checkpoints (
		key TEXT PRIMARY KEY,
		ts_unix_nano INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
`

// SQLiteStore keeps checkpoints in a local SQLite database, one row per key.
type SQLiteStore struct {
	db     *sql.DB
	key    string
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path, key string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite checkpoint: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite checkpoint: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		logger.Warn("failed to set WAL mode", "path", path, "error", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}

	return &SQLiteStore{db: db, key: key, logger: logger}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (time.Time, bool, error) {
	var ns int64
	err := s.db.QueryRowContext(ctx,
		`SELECT ts_unix_nano FROM replay_checkpoints WHERE key = ?`, s.key,
	).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load checkpoint %q: %w", s.key, err)
	}
	return time.Unix(0, ns).UTC(), true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replay_checkpoints (key, ts_unix_nano, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			ts_unix_nano = excluded.ts_unix_nano,
			updated_at = excluded.updated_at
	`, s.key, ts.UnixNano(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", s.key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
