package scheduler

import (
	"log/slog"
	"strconv"
	"time"
)

// Summary describes a replay run. Run returns it even when the run fails.
type Summary struct {
	RunID   string    `json:"run_id"`
	Started time.Time `json:"started"`
	Passes  int       `json:"passes"`

	Emitted int64 `json:"emitted"` // events that reached a terminal status
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`

	SkippedRows    int64 `json:"skipped_rows"` // first pass only
	OutOfOrderRows int64 `json:"out_of_order_rows"`
	Resumed        int64 `json:"resumed"` // records skipped as already delivered

	FastForwards int64         `json:"fast_forwards"`
	MaxLag       time.Duration `json:"max_lag"`
	Duration     time.Duration `json:"duration"`
}

// Rate returns sent points per second of run time.
func (s Summary) Rate() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Sent) / s.Duration.Seconds()
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", s.RunID),
		slog.Int("passes", s.Passes),
		slog.Int64("emitted", s.Emitted),
		slog.Int64("sent", s.Sent),
		slog.Int64("failed", s.Failed),
		slog.Int64("dropped", s.Dropped),
		slog.Int64("skipped_rows", s.SkippedRows),
		slog.Int64("out_of_order_rows", s.OutOfOrderRows),
		slog.Int64("resumed", s.Resumed),
		slog.Int64("fast_forwards", s.FastForwards),
		slog.Duration("max_lag", s.MaxLag),
		slog.Duration("duration", s.Duration),
		slog.String("rate", formatRate(s.Rate())),
	)
}

func formatRate(r float64) string {
	return strconv.FormatFloat(r, 'f', 2, 64) + "/s"
}
