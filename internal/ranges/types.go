// Package ranges turns per-timeframe calibration records into (min, max, step)
// tables keyed by external indicator name.
package ranges

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Triple is the calibrated range of one indicator in one timeframe.
type Triple struct {
	Min  float64
	Max  float64
	Step float64
}

// MarshalJSON encodes the triple as [min, max, step] using the same float
// spelling written into archive attributes.
func (t Triple) MarshalJSON() ([]byte, error) {
	for _, v := range []float64{t.Min, t.Max, t.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("range value %v is not representable in json", v)
		}
	}
	return []byte("[" + FormatFloat(t.Min) + ", " + FormatFloat(t.Max) + ", " + FormatFloat(t.Step) + "]"), nil
}

func (t *Triple) UnmarshalJSON(data []byte) error {
	var vals []float64
	if err := json.Unmarshal(data, &vals); err != nil {
		return fmt.Errorf("range must be [min, max, step]: %w", err)
	}
	if len(vals) != 3 {
		return fmt.Errorf("range must have 3 values, got %d", len(vals))
	}
	t.Min, t.Max, t.Step = vals[0], vals[1], vals[2]
	return nil
}

// Source resolves the range for an external indicator name.
type Source interface {
	Lookup(external string) (Triple, bool)
}

// Table is one timeframe's range table keyed by external name.
type Table map[string]Triple

func (t Table) Lookup(external string) (Triple, bool) {
	v, ok := t[external]
	return v, ok
}

// Names returns the table keys in sorted order.
func (t Table) Names() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TimeframeTable pairs a table with the timeframe it was built for.
type TimeframeTable struct {
	Timeframe string
	Table     Table
}

// Record is a single raw calibration row.
type Record struct {
	Indicator string
	Min       float64
	Max       float64
	Step      float64
}

// TimeframeData holds the raw records of one timeframe.
type TimeframeData struct {
	Name    string
	Records []Record
}

// Groups buckets the records by internal indicator name.
func (tf TimeframeData) Groups() map[string][]Record {
	out := make(map[string][]Record)
	for _, rec := range tf.Records {
		out[rec.Indicator] = append(out[rec.Indicator], rec)
	}
	return out
}

// Dataset is the parsed calibration file.
type Dataset struct {
	Timeframes []TimeframeData
}

// TimeframeNames lists the timeframes in document order.
func (d Dataset) TimeframeNames() []string {
	out := make([]string, 0, len(d.Timeframes))
	for _, tf := range d.Timeframes {
		out = append(out, tf.Name)
	}
	return out
}
