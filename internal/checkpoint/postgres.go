package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/price-replay/internal/config"
	"github.com/rickgao/price-replay/internal/database"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS replay_checkpoints (
		key TEXT PRIMARY KEY,
		ts_unix_nano BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// PostgresStore keeps checkpoints in PostgreSQL or TimescaleDB, one row per key.
type PostgresStore struct {
	db     *pgxpool.Pool
	key    string
	logger *slog.Logger
}

// OpenPostgres connects using cfg and creates the checkpoint table if needed.
func OpenPostgres(ctx context.Context, cfg config.DBConfig, key string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect checkpoint database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}

	logger.Info("postgres checkpoint ready", "host", cfg.Host, "db", cfg.Name, "key", key)
	return &PostgresStore{db: pool, key: key, logger: logger}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (time.Time, bool, error) {
	var ns int64
	err := s.db.QueryRow(ctx,
		`SELECT ts_unix_nano FROM replay_checkpoints WHERE key = $1`, s.key,
	).Scan(&ns)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load checkpoint %q: %w", s.key, err)
	}
	return time.Unix(0, ns).UTC(), true, nil
}

func (s *PostgresStore) Save(ctx context.Context, ts time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO replay_checkpoints (key, ts_unix_nano, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET
			ts_unix_nano = EXCLUDED.ts_unix_nano,
			updated_at = EXCLUDED.updated_at
	`, s.key, ts.UnixNano())
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", s.key, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
