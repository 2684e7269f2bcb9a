package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FileStore keeps the checkpoint as decimal Unix seconds in a text file.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Load reads the checkpoint. A missing file means no checkpoint; an unreadable
// value is logged and treated the same, so the replay starts from the top.
func (s *FileStore) Load(ctx context.Context) (time.Time, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	ts, err := parseUnixSeconds(strings.TrimSpace(string(data)))
	if err != nil {
		s.logger.Warn("ignoring unreadable checkpoint", "path", s.path, "error", err)
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

// Save writes ts atomically via a temp file and rename.
func (s *FileStore) Save(ctx context.Context, ts time.Time) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(formatUnixSeconds(ts)); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

// formatUnixSeconds renders ts as exact decimal seconds, e.g. "1325412060" or
// "1325412060.5".
func formatUnixSeconds(ts time.Time) string {
	return decimal.New(ts.UnixNano(), -9).String()
}

func parseUnixSeconds(s string) (time.Time, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	return time.Unix(0, d.Shift(9).IntPart()).UTC(), nil
}
