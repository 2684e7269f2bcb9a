// Package indicator computes rolling technical indicators over the replayed
// records and exposes them as extra fields on each emission.
package indicator

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/rickgao/price-replay/internal/model"
)

// DefaultWindow is the number of records the indicators look back over.
const DefaultWindow = 5

type sample struct {
	close  decimal.Decimal
	high   decimal.Decimal
	low    decimal.Decimal
	volume decimal.Decimal
}

// Window is a fixed-size rolling window of recent records. It is not safe for
// concurrent use; the scheduler owns it.
type Window struct {
	size    int
	samples []sample
	head    int
	count   int
}

// NewWindow creates a window of the given size. Sizes below 2 fall back to
// DefaultWindow.
func NewWindow(size int) *Window {
	if size < 2 {
		size = DefaultWindow
	}
	return &Window{
		size:    size,
		samples: make([]sample, size),
	}
}

// Size returns the window length.
func (w *Window) Size() int {
	return w.size
}

// Full reports whether the window holds size records.
func (w *Window) Full() bool {
	return w.count == w.size
}

// Reset empties the window. Called at the start of each pass so indicators
// never straddle the loop boundary.
func (w *Window) Reset() {
	w.head = 0
	w.count = 0
}

// Push adds rec to the window, evicting the oldest record when full.
// Missing OHLC values fall back to the record price and a missing volume
// counts as zero.
func (w *Window) Push(rec model.HistoricalRecord) {
	s := sample{
		close:  orDefault(rec.Close, rec.Price),
		high:   orDefault(rec.High, rec.Price),
		low:    orDefault(rec.Low, rec.Price),
		volume: orDefault(rec.Volume, decimal.Zero),
	}

	w.samples[w.head] = s
	w.head = (w.head + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

// Observe pushes rec and returns the indicators for the window ending at rec,
// or nil while the window is still filling.
func (w *Window) Observe(rec model.HistoricalRecord) model.Fields {
	w.Push(rec)
	return w.Fields()
}

// Fields returns sma, volatility, vwap, std_dev and momentum rounded to two
// decimals. vwap is omitted when the window carries no volume. Returns nil
// until the window is full.
func (w *Window) Fields() model.Fields {
	if !w.Full() {
		return nil
	}

	n := decimal.NewFromInt(int64(w.count))
	var (
		sum       decimal.Decimal
		pvSum     decimal.Decimal
		volumeSum decimal.Decimal
		maxHigh   decimal.Decimal
		minLow    decimal.Decimal
	)
	for i := 0; i < w.count; i++ {
		s := w.at(i)
		sum = sum.Add(s.close)
		pvSum = pvSum.Add(s.close.Mul(s.volume))
		volumeSum = volumeSum.Add(s.volume)
		if i == 0 || s.high.GreaterThan(maxHigh) {
			maxHigh = s.high
		}
		if i == 0 || s.low.LessThan(minLow) {
			minLow = s.low
		}
	}

	mean := sum.Div(n)

	volatility := decimal.Zero
	if mean.IsPositive() {
		volatility = maxHigh.Sub(minLow).Div(mean).Mul(decimal.NewFromInt(100))
	}

	var sq decimal.Decimal
	for i := 0; i < w.count; i++ {
		d := w.at(i).close.Sub(mean)
		sq = sq.Add(d.Mul(d))
	}
	stdDev := math.Sqrt(sq.Div(n.Sub(decimal.NewFromInt(1))).InexactFloat64())

	momentum := w.at(w.count - 1).close.Sub(w.at(0).close)

	fields := model.Fields{
		"sma":        round2(mean),
		"volatility": round2(volatility),
		"std_dev":    round2(decimal.NewFromFloat(stdDev)),
		"momentum":   round2(momentum),
	}
	if volumeSum.IsPositive() {
		fields["vwap"] = round2(pvSum.Div(volumeSum))
	}
	return fields
}

// at returns the i-th oldest sample.
func (w *Window) at(i int) sample {
	start := (w.head - w.count + w.size) % w.size
	return w.samples[(start+i)%w.size]
}

func orDefault(v *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if v == nil {
		return fallback
	}
	return *v
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
