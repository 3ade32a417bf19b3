// Package batch produces one patched archive per timeframe.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"calibrator/internal/logger"
	"calibrator/internal/ranges"
	"calibrator/internal/reconcile"
	"calibrator/internal/sqx"

	"golang.org/x/sync/errgroup"
)

// ErrNoRangeData means there is nothing to drive archive generation.
var ErrNoRangeData = errors.New("no range data")

var log = logger.Named("batch")

// Job describes the archives to produce.
type Job struct {
	Template     string
	DocumentPath string
	Asset        string
	OutputDir    string
	Extension    string
}

func (j Job) validate() error {
	if strings.TrimSpace(j.Template) == "" {
		return fmt.Errorf("job template is required")
	}
	if strings.TrimSpace(j.Asset) == "" {
		return fmt.Errorf("job asset is required")
	}
	if strings.TrimSpace(j.OutputDir) == "" {
		return fmt.Errorf("job output dir is required")
	}
	return nil
}

// Step is one timeframe with the ranges to apply.
type Step struct {
	Timeframe string
	Source    ranges.Source
}

// Orchestrator runs the patcher once per timeframe.
type Orchestrator struct {
	patcher *sqx.Patcher
	workers int
}

// New returns an orchestrator. workers <= 1 processes timeframes one after
// another.
func New(p *sqx.Patcher, workers int) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{patcher: p, workers: workers}
}

// RunTables drives the batch from the job asset's range tables stored in dir.
// Tables of other assets are ignored. It fails with ErrNoRangeData before
// writing anything when dir holds no tables for the asset.
func (o *Orchestrator) RunTables(ctx context.Context, job Job, dir string) (*Report, error) {
	tables, err := ranges.ReadTables(dir, job.Asset)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: no %s range tables in %s", ErrNoRangeData, job.Asset, dir)
	}
	steps := make([]Step, 0, len(tables))
	for _, t := range tables {
		steps = append(steps, Step{Timeframe: t.Timeframe, Source: t.Table})
	}
	return o.Run(ctx, job, steps)
}

// RunDataset drives the batch straight from calibration records, resolving
// each block through the mapping and the timeframe's records.
func (o *Orchestrator) RunDataset(ctx context.Context, job Job, mapping reconcile.MappingTable, ds ranges.Dataset, decimals int) (*Report, error) {
	if len(ds.Timeframes) == 0 {
		return nil, fmt.Errorf("%w: calibration dataset has no timeframes", ErrNoRangeData)
	}
	steps := make([]Step, 0, len(ds.Timeframes))
	for _, tf := range ds.Timeframes {
		steps = append(steps, Step{
			Timeframe: tf.Name,
			Source:    ranges.NewMappedSource(mapping, tf, decimals),
		})
	}
	return o.Run(ctx, job, steps)
}

// Run patches the template once per step. A failing timeframe is recorded in
// the report and does not stop the others; only template problems abort the
// whole run.
func (o *Orchestrator) Run(ctx context.Context, job Job, steps []Step) (*Report, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ErrNoRangeData
	}
	tpl, err := o.patcher.Load(job.Template, job.DocumentPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return nil, err
	}
	log.Infof("Template: %s", job.Template)
	log.Infof("Found %d timeframes", len(steps))

	results := make([]Outcome, len(steps))
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, step := range steps {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Outcome{Timeframe: step.Timeframe, Err: err}
				return nil
			}
			results[i] = o.runStep(tpl, job, step)
			return nil
		})
	}
	_ = g.Wait()

	return &Report{Asset: job.Asset, Template: job.Template, Results: results}, nil
}

func (o *Orchestrator) runStep(tpl *sqx.Template, job Job, step Step) Outcome {
	out := Outcome{Timeframe: step.Timeframe}
	if strings.TrimSpace(step.Timeframe) == "" {
		out.Err = fmt.Errorf("empty timeframe name")
		return out
	}
	name := sqx.OutputName(tpl.Archive.Stem(), job.Asset, step.Timeframe, job.Extension)
	path := filepath.Join(job.OutputDir, name)
	log.Infof("→ Timeframe %s", step.Timeframe)
	res, err := o.patcher.Patch(tpl, step.Source, path)
	if err != nil {
		log.Errorf("timeframe %s failed: %v", step.Timeframe, err)
		out.Err = err
		return out
	}
	out.Path = res.Output
	out.Patched = res.Patched
	out.Unmatched = res.Unmatched
	out.Disabled = res.Disabled
	return out
}
