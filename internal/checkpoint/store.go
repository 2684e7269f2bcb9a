// Package checkpoint persists the timestamp of the last delivered record so an
// interrupted replay can resume where it stopped.
//
// Backends:
//   - file: a single text file holding Unix seconds (last_ingested.txt)
//   - sqlite: a local database keyed by checkpoint name
//   - postgres: a table in PostgreSQL or TimescaleDB keyed by checkpoint name
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/price-replay/internal/config"
)

// Store loads and saves the last delivered original timestamp.
type Store interface {
	// Load returns the saved timestamp, or ok=false when none exists.
	Load(ctx context.Context) (ts time.Time, ok bool, err error)
	// Save replaces the saved timestamp.
	Save(ctx context.Context, ts time.Time) error
	Close() error
}

// Open creates the store selected by cfg.Backend. The none backend returns a
// store that never has a checkpoint and discards saves.
func Open(ctx context.Context, cfg config.CheckpointConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", config.CheckpointNone:
		return Nop{}, nil
	case config.CheckpointFile:
		return NewFileStore(cfg.Path, logger), nil
	case config.CheckpointSQLite:
		return OpenSQLite(ctx, cfg.Path, cfg.Key, logger)
	case config.CheckpointPostgres:
		return OpenPostgres(ctx, cfg.Postgres, cfg.Key, logger)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// Nop is a Store without persistence.
type Nop struct{}

func (Nop) Load(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (Nop) Save(context.Context, time.Time) error {
	return nil
}

func (Nop) Close() error {
	return nil
}
