package sqx

import (
	"strings"

	"calibrator/internal/ranges"
)

// PlanOptions selects which blocks may be rewritten.
type PlanOptions struct {
	IndicatorCategories []string
	RangeCategories     []string
	// SkipDisabled leaves blocks whose flag is off untouched. Off by default:
	// ranges are written whether or not the block is enabled.
	SkipDisabled bool
}

func DefaultPlanOptions() PlanOptions {
	return PlanOptions{
		IndicatorCategories: []string{IndicatorNamespace},
		RangeCategories:     []string{"StopLimit"},
	}
}

func (o PlanOptions) candidate(category string) bool {
	for _, group := range [][]string{o.IndicatorCategories, o.RangeCategories} {
		for _, c := range group {
			if strings.EqualFold(strings.TrimSpace(c), category) {
				return true
			}
		}
	}
	return false
}

// Patch overrides the range attributes of one block.
type Patch struct {
	BlockIndex int
	Name       string
	Range      ranges.Triple
	Enabled    bool
}

type PatchList []Patch

// Plan is the outcome of matching blocks against a range source.
type Plan struct {
	Patches PatchList
	// Unmatched lists candidate blocks with no range; they stay as they are.
	Unmatched []string
	// Disabled lists blocks left alone because SkipDisabled is set.
	Disabled []string
}

// BuildPlan decides, without touching the document, which blocks get which
// ranges.
func BuildPlan(blocks []Block, src ranges.Source, opts PlanOptions) Plan {
	var plan Plan
	for _, b := range blocks {
		if !opts.candidate(b.Category) {
			continue
		}
		rng, ok := src.Lookup(b.Name)
		if !ok {
			plan.Unmatched = append(plan.Unmatched, b.Name)
			continue
		}
		if opts.SkipDisabled && b.Flag != nil && !*b.Flag {
			plan.Disabled = append(plan.Disabled, b.Name)
			continue
		}
		plan.Patches = append(plan.Patches, Patch{
			BlockIndex: b.Index,
			Name:       b.Name,
			Range:      rng,
			Enabled:    b.Enabled(),
		})
	}
	return plan
}
