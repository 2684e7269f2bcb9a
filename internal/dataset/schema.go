package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/price-replay/internal/model"
)

// Column names of the optional OHLCV fields.
const (
	ColOpen   = "Open"
	ColHigh   = "High"
	ColLow    = "Low"
	ColClose  = "Close"
	ColVolume = "Volume"
)

// Schema describes which CSV columns are read and how.
type Schema struct {
	TimestampColumn string
	PriceColumn     string
	Optional        []string // subset of ColOpen..ColVolume
	Extra           []string // additional numeric columns
}

// DefaultSchema matches the Bitcoin historical dataset (Timestamp,Open,High,Low,Close,Volume).
func DefaultSchema() Schema {
	return Schema{
		TimestampColumn: "Timestamp",
		PriceColumn:     ColClose,
		Optional:        []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume},
	}
}

// binding is a Schema resolved against a concrete header row.
type binding struct {
	ts       int
	price    int
	optional map[string]int
	extra    map[string]int
}

// bind resolves column indexes. Missing required columns are an error; missing
// optional and extra columns are tolerated and left unset on every record.
func (s Schema) bind(header []string) (*binding, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	b := &binding{
		optional: make(map[string]int),
		extra:    make(map[string]int),
	}

	var ok bool
	if b.ts, ok = index[s.TimestampColumn]; !ok {
		return nil, fmt.Errorf("missing required column %q", s.TimestampColumn)
	}
	if b.price, ok = index[s.PriceColumn]; !ok {
		return nil, fmt.Errorf("missing required column %q", s.PriceColumn)
	}
	for _, name := range s.Optional {
		if i, ok := index[name]; ok {
			b.optional[name] = i
		}
	}
	for _, name := range s.Extra {
		if i, ok := index[name]; ok {
			b.extra[name] = i
		}
	}
	return b, nil
}

// parse converts one CSV row into a record.
// Unreadable optional or extra cells are left unset and reported in bad; only
// the timestamp and price can fail the row.
func (b *binding) parse(row []string, offset int64) (rec model.HistoricalRecord, bad []string, err error) {
	rec = model.HistoricalRecord{Offset: offset}

	ts, err := parseTimestamp(cell(row, b.ts))
	if err != nil {
		return rec, nil, fmt.Errorf("timestamp: %w", err)
	}
	rec.Timestamp = ts

	price, ok, err := parseNumber(cell(row, b.price))
	if err != nil {
		return rec, nil, fmt.Errorf("price: %w", err)
	}
	if !ok {
		return rec, nil, fmt.Errorf("price: empty")
	}
	rec.Price = price

	for name, i := range b.optional {
		v, ok, err := parseNumber(cell(row, i))
		if err != nil {
			bad = append(bad, name)
			continue
		}
		if !ok {
			continue
		}
		switch name {
		case ColOpen:
			rec.Open = &v
		case ColHigh:
			rec.High = &v
		case ColLow:
			rec.Low = &v
		case ColClose:
			rec.Close = &v
		case ColVolume:
			rec.Volume = &v
		}
	}

	for name, i := range b.extra {
		v, ok, err := parseNumber(cell(row, i))
		if err != nil {
			bad = append(bad, name)
			continue
		}
		if !ok {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]decimal.Decimal, len(b.extra))
		}
		rec.Extra[name] = v
	}

	sort.Strings(bad)
	return rec, bad, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseTimestamp accepts Unix seconds (integer, fractional or exponent form,
// e.g. "1.325412e+09") or RFC 3339.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
			return time.Time{}, fmt.Errorf("out of range: %q", s)
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized format: %q", s)
	}
	return t.UTC(), nil
}

// parseNumber returns ok=false for empty or "nan" cells.
func parseNumber(s string) (decimal.Decimal, bool, error) {
	if s == "" || strings.EqualFold(s, "nan") {
		return decimal.Decimal{}, false, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("not numeric: %q", s)
	}
	return d, true, nil
}
