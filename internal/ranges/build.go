package ranges

import (
	"math"

	"calibrator/internal/reconcile"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the rounding precision used when none is configured.
const DefaultDecimals = 6

// Round rounds v half away from zero to the given number of decimals.
// Rounding works on the shortest decimal representation of v, not on its
// exact binary value, so ties such as 0.0000125 round up where a
// binary-exact rounding would round down. NaN and infinities are returned
// unchanged.
func Round(v float64, decimals int) float64 {
	if decimals < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(int32(decimals)).InexactFloat64()
}

// Aggregate folds raw records into one triple: the smallest minimum, the
// largest maximum and the smallest step.
func Aggregate(records []Record) (Triple, bool) {
	if len(records) == 0 {
		return Triple{}, false
	}
	out := Triple{Min: records[0].Min, Max: records[0].Max, Step: records[0].Step}
	for _, rec := range records[1:] {
		if rec.Min < out.Min {
			out.Min = rec.Min
		}
		if rec.Max > out.Max {
			out.Max = rec.Max
		}
		if rec.Step < out.Step {
			out.Step = rec.Step
		}
	}
	return out, true
}

func roundTriple(t Triple, decimals int) Triple {
	return Triple{
		Min:  Round(t.Min, decimals),
		Max:  Round(t.Max, decimals),
		Step: Round(t.Step, decimals),
	}
}

// MappedSource resolves ranges in two stages: external name to internal name
// through the mapping, then internal name to that timeframe's raw records.
type MappedSource struct {
	mapping  map[string]string
	groups   map[string][]Record
	decimals int
}

// NewMappedSource builds the two-stage source for one timeframe.
func NewMappedSource(mapping reconcile.MappingTable, tf TimeframeData, decimals int) *MappedSource {
	return &MappedSource{
		mapping:  mapping.Resolved(),
		groups:   tf.Groups(),
		decimals: decimals,
	}
}

func (s *MappedSource) Lookup(external string) (Triple, bool) {
	if s == nil {
		return Triple{}, false
	}
	internal, ok := s.mapping[external]
	if !ok {
		return Triple{}, false
	}
	agg, ok := Aggregate(s.groups[internal])
	if !ok {
		return Triple{}, false
	}
	return roundTriple(agg, s.decimals), true
}

// BuildTimeframe produces the external-keyed table for one timeframe.
// Externals that are unresolved, or whose internal indicator has no records
// in this timeframe, are left out.
func BuildTimeframe(mapping reconcile.MappingTable, tf TimeframeData, decimals int) Table {
	src := NewMappedSource(mapping, tf, decimals)
	table := make(Table)
	for _, entry := range mapping {
		if rng, ok := src.Lookup(entry.External); ok {
			table[entry.External] = rng
		}
	}
	return table
}

// Build produces one table per timeframe, in dataset order.
func Build(mapping reconcile.MappingTable, ds Dataset, decimals int) []TimeframeTable {
	out := make([]TimeframeTable, 0, len(ds.Timeframes))
	for _, tf := range ds.Timeframes {
		out = append(out, TimeframeTable{
			Timeframe: tf.Name,
			Table:     BuildTimeframe(mapping, tf, decimals),
		})
	}
	return out
}
