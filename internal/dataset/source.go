package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/rickgao/price-replay/internal/model"
)

// Source produces passes over a dataset. Each Open starts from the first record.
type Source interface {
	Open(ctx context.Context) (Cursor, error)
}

// Cursor is a lazy, single-pass sequence of records in non-decreasing
// timestamp order. Next returns io.EOF after the last record.
type Cursor interface {
	Next() (model.HistoricalRecord, error)
	Stats() LoadStats
	Close() error
}

// LoadStats counts rows seen during one pass.
type LoadStats struct {
	Read       int64 // data rows read, including skipped ones
	Skipped    int64 // malformed rows
	OutOfOrder int64 // rows rejected for going back in time (streaming only)
	BadFields  int64 // unreadable optional or extra cells left unset; rows kept
	Emitted    int64 // records returned by Next
}

// Rejected is the number of rows that did not become records.
func (s LoadStats) Rejected() int64 {
	return s.Skipped + s.OutOfOrder
}

// Options controls parsing and the skip threshold.
type Options struct {
	Schema         Schema
	MaxSkipRatio   float64 // fail when rejected/read exceeds this
	SkipSampleRows int64   // minimum rows read before the ratio is checked mid-file
	Logger         *slog.Logger
}

// DefaultOptions returns the options used for the Bitcoin dataset.
func DefaultOptions() Options {
	return Options{
		Schema:         DefaultSchema(),
		MaxSkipRatio:   0.1,
		SkipSampleRows: 100,
	}
}

// FileSource streams a CSV file. Rows that go back in time are rejected and
// counted, since a stream cannot be re-sorted.
type FileSource struct {
	path   string
	opts   Options
	logger *slog.Logger
}

// NewFileSource creates a streaming source over the CSV file at path.
func NewFileSource(path string, opts Options) *FileSource {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, opts: opts, logger: logger}
}

// Open starts a new pass over the file.
func (s *FileSource) Open(ctx context.Context) (Cursor, error) {
	return s.open(ctx, false)
}

func (s *FileSource) open(ctx context.Context, allowUnordered bool) (*csvCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, &DatasetCorruptError{Path: s.path, Reason: "empty file, no header row"}
		}
		return nil, &DatasetCorruptError{Path: s.path, Reason: fmt.Sprintf("read header: %v", err)}
	}

	b, err := s.opts.Schema.bind(header)
	if err != nil {
		f.Close()
		return nil, &DatasetCorruptError{Path: s.path, Reason: err.Error()}
	}

	return &csvCursor{
		src:            s,
		file:           f,
		reader:         r,
		binding:        b,
		allowUnordered: allowUnordered,
	}, nil
}

type csvCursor struct {
	src     *FileSource
	file    *os.File
	reader  *csv.Reader
	binding *binding

	allowUnordered bool
	offset         int64
	last           time.Time
	stats          LoadStats
	done           bool
}

func (c *csvCursor) Next() (model.HistoricalRecord, error) {
	if c.done {
		return model.HistoricalRecord{}, io.EOF
	}

	for {
		row, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			c.done = true
			if err := c.checkFinal(); err != nil {
				return model.HistoricalRecord{}, err
			}
			return model.HistoricalRecord{}, io.EOF
		}

		c.offset++
		c.stats.Read++

		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return model.HistoricalRecord{}, fmt.Errorf("read dataset row %d: %w", c.offset, err)
			}
			if err := c.reject(&c.stats.Skipped, err.Error()); err != nil {
				return model.HistoricalRecord{}, err
			}
			continue
		}

		rec, bad, err := c.binding.parse(row, c.offset)
		if err != nil {
			if err := c.reject(&c.stats.Skipped, err.Error()); err != nil {
				return model.HistoricalRecord{}, err
			}
			continue
		}

		if !c.allowUnordered && rec.Timestamp.Before(c.last) {
			reason := fmt.Sprintf("timestamp %s before previous %s", rec.Timestamp.Format(time.RFC3339), c.last.Format(time.RFC3339))
			if err := c.reject(&c.stats.OutOfOrder, reason); err != nil {
				return model.HistoricalRecord{}, err
			}
			continue
		}

		if len(bad) > 0 {
			c.stats.BadFields += int64(len(bad))
			c.src.logger.Debug("ignoring unreadable dataset fields",
				"path", c.src.path,
				"row", c.offset,
				"fields", bad,
			)
		}

		c.last = rec.Timestamp
		c.stats.Emitted++
		return rec, nil
	}
}

// reject counts a bad row and fails once the sample is large enough and the
// ratio is exceeded.
func (c *csvCursor) reject(counter *int64, reason string) error {
	*counter++
	c.src.logger.Debug("skipping dataset row",
		"path", c.src.path,
		"row", c.offset,
		"reason", reason,
	)
	if c.stats.Read >= c.src.opts.SkipSampleRows && c.exceeded() {
		return c.corrupt(reason)
	}
	return nil
}

func (c *csvCursor) checkFinal() error {
	if c.stats.Read > 0 && c.exceeded() {
		return c.corrupt("skip ratio exceeded at end of file")
	}
	if rejected := c.stats.Rejected(); rejected > 0 {
		c.src.logger.Warn("dataset rows skipped",
			"path", c.src.path,
			"read", c.stats.Read,
			"skipped", c.stats.Skipped,
			"out_of_order", c.stats.OutOfOrder,
		)
	}
	if c.stats.BadFields > 0 {
		c.src.logger.Warn("dataset fields ignored",
			"path", c.src.path,
			"read", c.stats.Read,
			"bad_fields", c.stats.BadFields,
		)
	}
	return nil
}

func (c *csvCursor) exceeded() bool {
	return float64(c.stats.Rejected())/float64(c.stats.Read) > c.src.opts.MaxSkipRatio
}

func (c *csvCursor) corrupt(reason string) error {
	return &DatasetCorruptError{
		Path:    c.src.path,
		Offset:  c.offset,
		Read:    c.stats.Read,
		Skipped: c.stats.Rejected(),
		Reason:  reason,
	}
}

func (c *csvCursor) Stats() LoadStats {
	return c.stats
}

func (c *csvCursor) Close() error {
	return c.file.Close()
}

// -----------------------------------------------------------------------------
// Preloaded datasets
// -----------------------------------------------------------------------------

// Load reads the whole file into memory and stably re-sorts it by timestamp.
func Load(ctx context.Context, path string, opts Options) (model.Dataset, LoadStats, error) {
	src := NewFileSource(path, opts)
	cur, err := src.open(ctx, true)
	if err != nil {
		return nil, LoadStats{}, err
	}
	defer cur.Close()

	var ds model.Dataset
	for {
		if len(ds)%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, cur.Stats(), err
			}
		}
		rec, err := cur.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, cur.Stats(), err
		}
		ds = append(ds, rec)
	}

	if !ds.Sorted() {
		sort.SliceStable(ds, func(i, j int) bool {
			return ds[i].Timestamp.Before(ds[j].Timestamp)
		})
		src.logger.Info("dataset re-sorted by timestamp", "path", path, "records", len(ds))
	}

	return ds, cur.Stats(), nil
}

// MemorySource replays a preloaded dataset.
type MemorySource struct {
	ds    model.Dataset
	stats LoadStats
}

// NewMemorySource wraps a dataset. stats are reported by every cursor so the
// run summary reflects what was skipped during the load.
func NewMemorySource(ds model.Dataset, stats LoadStats) *MemorySource {
	return &MemorySource{ds: ds, stats: stats}
}

// Open starts a new pass over the dataset.
func (s *MemorySource) Open(ctx context.Context) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sliceCursor{ds: s.ds, stats: s.stats}, nil
}

type sliceCursor struct {
	ds    model.Dataset
	pos   int
	stats LoadStats
}

func (c *sliceCursor) Next() (model.HistoricalRecord, error) {
	if c.pos >= len(c.ds) {
		return model.HistoricalRecord{}, io.EOF
	}
	rec := c.ds[c.pos]
	c.pos++
	return rec, nil
}

func (c *sliceCursor) Stats() LoadStats {
	return c.stats
}

func (c *sliceCursor) Close() error {
	return nil
}
