package delivery

import (
	"fmt"
	"maps"
	"slices"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/shopspring/decimal"

	"github.com/rickgao/price-replay/internal/model"
)

// Encode renders an event as a single line-protocol line without a trailing newline.
func (c *Client) Encode(ev *model.EmissionEvent) ([]byte, error) {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)

	enc.StartLine(c.measurement)
	for _, k := range c.tagKeys {
		enc.AddTag(k, c.tags[k])
	}

	rec := ev.Record
	if err := addDecimal(&enc, "price", rec.Price); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name string
		val  *decimal.Decimal
	}{
		{"open", rec.Open},
		{"high", rec.High},
		{"low", rec.Low},
		{"close", rec.Close},
		{"volume", rec.Volume},
	} {
		if f.val == nil {
			continue
		}
		if err := addDecimal(&enc, f.name, *f.val); err != nil {
			return nil, err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(rec.Extra)) {
		if err := addDecimal(&enc, name, rec.Extra[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(ev.Derived)) {
		if err := addFloat(&enc, name, ev.Derived[name]); err != nil {
			return nil, err
		}
	}

	enc.EndLine(ev.EmitAt)
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("encode line: %w", err)
	}

	line := enc.Bytes()
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	return line, nil
}

func addDecimal(enc *lineprotocol.Encoder, name string, d decimal.Decimal) error {
	return addFloat(enc, name, d.InexactFloat64())
}

func addFloat(enc *lineprotocol.Encoder, name string, f float64) error {
	v, ok := lineprotocol.NewValue(f)
	if !ok {
		return fmt.Errorf("encode field %s: invalid value %v", name, f)
	}
	enc.AddField(name, v)
	return nil
}
