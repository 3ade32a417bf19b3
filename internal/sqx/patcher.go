package sqx

import (
	"fmt"

	"calibrator/internal/logger"
	"calibrator/internal/ranges"
)

var log = logger.Named("sqx")

// Options configures a Patcher.
type Options struct {
	Plan       PlanOptions
	Attributes Attributes
}

func DefaultOptions() Options {
	return Options{Plan: DefaultPlanOptions(), Attributes: DefaultAttributes()}
}

// Template is a loaded archive together with its parsed document.
type Template struct {
	Archive *Archive
	Doc     *Document
}

// LoadTemplate reads the archive at path and parses its document.
func LoadTemplate(path, docPath string, attrs Attributes) (*Template, error) {
	a, err := ReadArchive(path, docPath)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(a.Document, attrs)
	if err != nil {
		return nil, fmt.Errorf("%s in %s: %w", a.DocumentPath, path, err)
	}
	return &Template{Archive: a, Doc: doc}, nil
}

// Result summarizes one patched archive.
type Result struct {
	Output    string
	Patched   []string
	Unmatched []string
	Disabled  []string
}

// Patcher rewrites range attributes of a template into new archives.
type Patcher struct {
	opts Options
}

func NewPatcher(opts Options) *Patcher {
	opts.Attributes = opts.Attributes.orDefault()
	return &Patcher{opts: opts}
}

func (p *Patcher) Options() Options {
	return p.opts
}

// Load reads a template using the patcher's attribute names.
func (p *Patcher) Load(path, docPath string) (*Template, error) {
	return LoadTemplate(path, docPath, p.opts.Attributes)
}

// Patch writes outPath: the template with every matching block's range
// replaced by src. The template itself is not modified.
func (p *Patcher) Patch(tpl *Template, src ranges.Source, outPath string) (Result, error) {
	if tpl == nil || tpl.Archive == nil || tpl.Doc == nil {
		return Result{}, fmt.Errorf("template not loaded")
	}
	plan := BuildPlan(tpl.Doc.Blocks(), src, p.opts.Plan)
	for _, patch := range plan.Patches {
		state := "OFF"
		if patch.Enabled {
			state = "ON"
		}
		log.Debugf("  %s (%s) → min=%s  max=%s  step=%s", patch.Name, state,
			ranges.FormatFloat(patch.Range.Min), ranges.FormatFloat(patch.Range.Max), ranges.FormatFloat(patch.Range.Step))
	}
	for _, name := range plan.Unmatched {
		log.Debugf("  %s has no range, left untouched", name)
	}
	doc := tpl.Archive.Document
	if len(plan.Patches) > 0 {
		var err error
		if doc, err = tpl.Doc.Apply(plan.Patches); err != nil {
			return Result{}, err
		}
	}
	if err := WriteArchive(outPath, tpl.Archive, doc); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", outPath, err)
	}
	res := Result{Output: outPath, Unmatched: plan.Unmatched, Disabled: plan.Disabled}
	for _, patch := range plan.Patches {
		res.Patched = append(res.Patched, patch.Name)
	}
	log.Infof("✔  Generated %s (%d patched, %d untouched)", outPath, len(res.Patched), len(res.Unmatched)+len(res.Disabled))
	return res, nil
}
