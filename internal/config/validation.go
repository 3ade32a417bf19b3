package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if strings.TrimSpace(c.Asset) == "" {
		return fmt.Errorf("asset cannot be empty")
	}
	if strings.ContainsAny(c.Asset, `/\`) {
		return fmt.Errorf("asset must not contain path separators: %s", c.Asset)
	}
	if err := c.Archive.validate(); err != nil {
		return err
	}
	if err := c.Reconcile.validate(); err != nil {
		return err
	}
	if err := c.Ranges.validate(); err != nil {
		return err
	}
	if err := c.Patch.validate(); err != nil {
		return err
	}
	if err := c.Batch.validate(); err != nil {
		return err
	}
	return nil
}

func (a *ArchiveConfig) validate() error {
	if strings.TrimSpace(a.DocumentPath) == "" {
		return fmt.Errorf("archive.document_path cannot be empty")
	}
	if strings.TrimSpace(a.Extension) == "" {
		return fmt.Errorf("archive.extension cannot be empty")
	}
	return nil
}

func (r *ReconcileConfig) validate() error {
	if len(r.InternalPrefix) > 8 {
		return fmt.Errorf("reconcile.internal_prefix is too long: %q", r.InternalPrefix)
	}
	for name, p := range map[string]PassConfig{"first_pass": r.FirstPass, "second_pass": r.SecondPass} {
		if p.Limit <= 0 {
			return fmt.Errorf("reconcile.%s.limit must be > 0", name)
		}
		if p.Cutoff < 0 || p.Cutoff > 1 {
			return fmt.Errorf("reconcile.%s.cutoff must be in [0,1]", name)
		}
	}
	if r.WatchAliases && strings.TrimSpace(r.AliasesPath) == "" {
		return fmt.Errorf("reconcile.watch_aliases requires reconcile.aliases_path")
	}
	return nil
}

func (r *RangesConfig) validate() error {
	if r.Decimals < 0 || r.Decimals > 15 {
		return fmt.Errorf("ranges.decimals must be in [0,15]")
	}
	return nil
}

func (p *PatchConfig) validate() error {
	if len(p.IndicatorCategories)+len(p.RangeCategories) == 0 {
		return fmt.Errorf("patch requires at least one indicator or range category")
	}
	attrs := map[string]string{"min": p.Attributes.Min, "max": p.Attributes.Max, "step": p.Attributes.Step}
	seen := make(map[string]string, 3)
	for role, name := range attrs {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return fmt.Errorf("patch.attributes.%s cannot be empty", role)
		}
		if other, dup := seen[key]; dup {
			return fmt.Errorf("patch.attributes.%s and patch.attributes.%s both use %q", other, role, name)
		}
		seen[key] = role
	}
	return nil
}

func (b *BatchConfig) validate() error {
	switch b.Mode {
	case ModeTables, ModeDirect:
	default:
		return fmt.Errorf("batch.mode must be %q or %q, got %q", ModeTables, ModeDirect, b.Mode)
	}
	if b.Workers < 1 || b.Workers > 64 {
		return fmt.Errorf("batch.workers must be in [1,64]")
	}
	return nil
}
