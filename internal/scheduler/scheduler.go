package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/price-replay/internal/checkpoint"
	"github.com/rickgao/price-replay/internal/clock"
	"github.com/rickgao/price-replay/internal/config"
	"github.com/rickgao/price-replay/internal/dataset"
	"github.com/rickgao/price-replay/internal/delivery"
	"github.com/rickgao/price-replay/internal/indicator"
	"github.com/rickgao/price-replay/internal/model"
)

// Deliverer sends one event, retrying as it sees fit, and returns the final
// outcome. delivery.Client implements it.
type Deliverer interface {
	Deliver(ctx context.Context, ev *model.EmissionEvent) error
}

// Observer is notified after each event reaches a terminal status. Observe is
// called on the scheduler goroutine and must not block.
type Observer interface {
	Observe(ev *model.EmissionEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev *model.EmissionEvent)

func (f ObserverFunc) Observe(ev *model.EmissionEvent) {
	f(ev)
}

// Config holds pacing settings.
type Config struct {
	MaxLag       time.Duration // 0 disables the fall-behind check
	OnFallBehind string        // config.FallBehindFastForward or config.FallBehindAbort
	Loop         bool
	MaxPasses    int // 0 = unlimited; only meaningful with Loop
}

// ConfigFrom extracts scheduler settings from the pacing config.
func ConfigFrom(p config.PacingConfig) Config {
	return Config{
		MaxLag:       p.MaxLag(),
		OnFallBehind: p.OnFallBehind,
		Loop:         p.Loop,
		MaxPasses:    p.MaxPasses,
	}
}

// Scheduler replays a Source through a Deliverer in real time.
type Scheduler struct {
	cfg       Config
	source    dataset.Source
	clock     *clock.Clock
	deliverer Deliverer
	logger    *slog.Logger

	wall       clock.Wall
	origin     time.Time
	checkpoint checkpoint.Store
	indicators *indicator.Window
	observers  []Observer

	// Live summary, read by Stats from other goroutines
	mu      sync.Mutex
	summary Summary
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWall sets the wall clock used for pacing.
func WithWall(w clock.Wall) Option {
	return func(s *Scheduler) {
		s.wall = w
	}
}

// WithOrigin sets the simulated time the first emitted record maps to.
// Zero means the wall time when Run starts.
func WithOrigin(t time.Time) Option {
	return func(s *Scheduler) {
		s.origin = t
	}
}

// WithCheckpoint enables resume from, and saving to, store.
func WithCheckpoint(store checkpoint.Store) Option {
	return func(s *Scheduler) {
		s.checkpoint = store
	}
}

// WithIndicators attaches rolling indicator fields to each event.
func WithIndicators(w *indicator.Window) Option {
	return func(s *Scheduler) {
		s.indicators = w
	}
}

// WithObserver registers an observer for terminal events.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observers = append(s.observers, o)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler. The clock is rebased by Run.
func New(cfg Config, source dataset.Source, clk *clock.Clock, d Deliverer, opts ...Option) (*Scheduler, error) {
	if cfg.MaxLag > 0 {
		switch cfg.OnFallBehind {
		case config.FallBehindFastForward, config.FallBehindAbort:
		default:
			return nil, &config.InvalidConfigError{
				Field:  "pacing.on_fall_behind",
				Reason: fmt.Sprintf("must be fast_forward or abort, got %q", cfg.OnFallBehind),
			}
		}
	}
	if cfg.MaxPasses < 0 {
		return nil, &config.InvalidConfigError{
			Field:  "pacing.max_passes",
			Reason: fmt.Sprintf("must be >= 0, got %d", cfg.MaxPasses),
		}
	}

	s := &Scheduler{
		cfg:        cfg,
		source:     source,
		clock:      clk,
		deliverer:  d,
		logger:     slog.Default(),
		wall:       clock.System(),
		checkpoint: checkpoint.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Stats returns a snapshot of the run summary so far.
func (s *Scheduler) Stats() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := s.summary
	if !sum.Started.IsZero() && sum.Duration == 0 {
		sum.Duration = s.wall.Now().Sub(sum.Started)
	}
	return sum
}

// update applies fn to the live summary under the lock.
func (s *Scheduler) update(fn func(*Summary)) {
	s.mu.Lock()
	fn(&s.summary)
	s.mu.Unlock()
}

// Run replays the source until it is exhausted, the pass limit is reached, ctx
// is canceled or a fatal error occurs. The returned Summary is valid in every
// case. Cancellation is reported as ctx.Err().
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	started := s.wall.Now()
	s.update(func(sum *Summary) {
		*sum = Summary{RunID: uuid.NewString(), Started: started}
	})

	err := s.run(ctx)

	s.update(func(sum *Summary) {
		sum.Duration = s.wall.Now().Sub(started)
	})
	return s.Stats(), err
}

func (s *Scheduler) run(ctx context.Context) error {
	resumeAfter, resuming, err := s.checkpoint.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if resuming {
		s.logger.Info("resuming from checkpoint", "after", resumeAfter)
	}

	var seq int64
	for pass := 1; ; pass++ {
		if pass > 1 && (!s.cfg.Loop || (s.cfg.MaxPasses > 0 && pass > s.cfg.MaxPasses)) {
			return nil
		}

		s.update(func(sum *Summary) { sum.Passes = pass })
		emitted, err := s.runPass(ctx, pass, &seq, resuming && pass == 1, resumeAfter)
		if err != nil {
			return err
		}
		if emitted == 0 && pass > 1 {
			s.logger.Warn("dataset pass produced no records, stopping loop", "pass", pass)
			return nil
		}
	}
}

// runPass replays one pass over the source and returns the number of records
// read from it, including records skipped by resume.
func (s *Scheduler) runPass(ctx context.Context, pass int, seq *int64, resume bool, resumeAfter time.Time) (int64, error) {
	cur, err := s.source.Open(ctx)
	if err != nil {
		return 0, fmt.Errorf("open dataset pass %d: %w", pass, err)
	}
	defer cur.Close()

	if pass == 1 {
		defer func() {
			stats := cur.Stats()
			s.update(func(sum *Summary) {
				sum.SkippedRows = stats.Skipped
				sum.OutOfOrderRows = stats.OutOfOrder
			})
		}()
	}

	if s.indicators != nil {
		s.indicators.Reset()
	}

	var (
		records int64
		based   bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		rec, err := cur.Next()
		if errors.Is(err, io.EOF) {
			s.logger.Info("dataset pass complete", "pass", pass, "records", records)
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("read dataset pass %d: %w", pass, err)
		}
		records++

		if resume && !rec.Timestamp.After(resumeAfter) {
			s.update(func(sum *Summary) { sum.Resumed++ })
			continue
		}

		if !based {
			s.rebase(pass, rec.Timestamp)
			based = true
		}

		*seq++
		if err := s.emit(ctx, pass, *seq, rec); err != nil {
			return records, err
		}
	}
}

// rebase anchors the clock so the first emitted record of a pass is due at the
// configured origin (first pass) or now (later passes).
func (s *Scheduler) rebase(pass int, datasetStart time.Time) {
	origin := s.origin
	if pass > 1 || origin.IsZero() {
		origin = s.wall.Now()
	}
	s.clock.Rebase(datasetStart, origin)
	s.logger.Info("clock rebased",
		"pass", pass,
		"mode", s.clock.Mode(),
		"speed", s.clock.Speed(),
		"dataset_start", datasetStart,
		"origin", origin,
	)
}

// emit paces, delivers and accounts for a single record.
func (s *Scheduler) emit(ctx context.Context, pass int, seq int64, rec model.HistoricalRecord) error {
	emitAt := s.clock.Emit(rec.Timestamp)
	now := s.wall.Now()

	if lag := now.Sub(emitAt); lag > 0 {
		s.update(func(sum *Summary) {
			if lag > sum.MaxLag {
				sum.MaxLag = lag
			}
		})

		if s.cfg.MaxLag > 0 && lag > s.cfg.MaxLag {
			if s.cfg.OnFallBehind == config.FallBehindAbort {
				return &FallBehindError{Seq: seq, Offset: rec.Offset, Lag: lag, MaxLag: s.cfg.MaxLag}
			}

			s.clock.Advance(lag)
			emitAt = s.clock.Emit(rec.Timestamp)
			s.update(func(sum *Summary) { sum.FastForwards++ })
			s.logger.Warn("fell behind schedule, fast-forwarding",
				"seq", seq,
				"row", rec.Offset,
				"lag", lag,
				"max_lag", s.cfg.MaxLag,
			)
		}
	}

	if delay := emitAt.Sub(now); delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wall.After(delay):
		}
	}

	ev := model.NewEmissionEvent(rec, emitAt, pass, seq)
	if s.indicators != nil {
		ev.Derived = s.indicators.Observe(rec)
	}

	// A started delivery always runs to its terminal status.
	dctx := context.WithoutCancel(ctx)
	err := s.deliverer.Deliver(dctx, ev)
	ev.Err = err
	ev.Status = delivery.StatusOf(err)
	ev.SentAt = s.wall.Now()

	s.record(dctx, ev)
	return nil
}

// record counts a terminal event, saves the checkpoint and notifies observers.
func (s *Scheduler) record(ctx context.Context, ev *model.EmissionEvent) {
	s.update(func(sum *Summary) {
		sum.Emitted++
		switch ev.Status {
		case model.StatusSent:
			sum.Sent++
		case model.StatusDropped:
			sum.Dropped++
		case model.StatusFailed:
			sum.Failed++
		}
	})

	switch ev.Status {
	case model.StatusSent:
		s.logger.Debug("record sent",
			"seq", ev.Seq,
			"row", ev.Record.Offset,
			"emit_at", ev.EmitAt,
			"attempts", ev.Attempts,
		)
		if err := s.checkpoint.Save(ctx, ev.Record.Timestamp); err != nil {
			s.logger.Warn("failed to save checkpoint", "seq", ev.Seq, "error", err)
		}
	default:
		s.logger.Warn("record not delivered",
			"seq", ev.Seq,
			"row", ev.Record.Offset,
			"status", ev.Status,
			"attempts", ev.Attempts,
			"error", ev.Err,
		)
	}

	for _, o := range s.observers {
		o.Observe(ev)
	}
}
