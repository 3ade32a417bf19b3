package batch

import (
	"errors"
	"fmt"
	"sort"

	"calibrator/internal/logger"
)

// Outcome is the result of one timeframe.
type Outcome struct {
	Timeframe string
	Path      string
	Patched   []string
	Unmatched []string
	Disabled  []string
	Err       error
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

// Report collects the outcomes of a batch, in step order.
type Report struct {
	Asset    string
	Template string
	Results  []Outcome
}

// Outputs lists the archives that were written.
func (r *Report) Outputs() []string {
	var out []string
	for _, res := range r.Results {
		if res.OK() {
			out = append(out, res.Path)
		}
	}
	return out
}

// Timeframes lists every timeframe processed, successful or not.
func (r *Report) Timeframes() []string {
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.Timeframe)
	}
	return out
}

func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the per-timeframe errors; nil when every timeframe succeeded.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("timeframe %s: %w", res.Timeframe, res.Err))
	}
	return errors.Join(errs...)
}

// Untouched counts, per block name, how many timeframes left it unmodified.
func (r *Report) Untouched() map[string]int {
	out := make(map[string]int)
	for _, res := range r.Results {
		for _, name := range res.Unmatched {
			out[name]++
		}
		for _, name := range res.Disabled {
			out[name]++
		}
	}
	return out
}

// Log writes the summary to the log and the detail to the report sink.
func (r *Report) Log() {
	log.Infof("✔ %d/%d archives generated for %s", len(r.Outputs()), len(r.Results), r.Asset)
	for _, res := range r.Failed() {
		log.Warnf("timeframe %s: %v", res.Timeframe, res.Err)
	}
	var sections []logger.ReportSection
	for _, res := range r.Results {
		if !res.OK() {
			sections = append(sections, logger.ReportSection{
				Title: res.Timeframe + " FAILED",
				Lines: []string{res.Err.Error()},
			})
			continue
		}
		lines := append([]string(nil), res.Unmatched...)
		for _, name := range res.Disabled {
			lines = append(lines, name+" (disabled)")
		}
		sort.Strings(lines)
		sections = append(sections, logger.ReportSection{Title: res.Timeframe + " UNTOUCHED", Lines: lines})
	}
	logger.LogReport("batch", r.Asset, sections)
}
