package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAsset             = "NDX"
	defaultIndicatorsDir     = "./mt5_indicators"
	defaultBlockSettings     = "./TemplateBlockSettings.sqb"
	defaultMappingFile       = "./template_master_mapping.json"
	defaultCalibrationFile   = "./valores.json"
	defaultRangesDir         = "./ranges_by_tf"
	defaultOutputDir         = "./calibrated_sqb"
	defaultDocumentPath      = "config.xml"
	defaultArchiveExtension  = "sqb"
	defaultIndicatorExt      = ".ex5"
	defaultInternalPrefix    = "sq"
	defaultFirstPassLimit    = 4
	defaultFirstPassCutoff   = 0.30
	defaultSecondPassLimit   = 1
	defaultSecondPassCutoff  = 0.60
	defaultRangeDecimals     = 6
	defaultBatchMode         = ModeTables
	defaultBatchWorkers      = 1
	defaultHTTPAddr          = ":8501"
	defaultHTTPMaxUploadMB   = 64
	defaultIndicatorAttrMin  = "indicatorMin"
	defaultIndicatorAttrMax  = "indicatorMax"
	defaultIndicatorAttrStep = "indicatorStep"
	defaultIndicatorCategory = "Indicators"
	defaultStopLimitCategory = "StopLimit"
)

// Default 返回仅包含默认值的配置。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(keySet{})
	return &cfg
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	applyFieldDefaults(keys, stringFieldDefault("asset", &c.Asset, defaultAsset))
	c.Paths.applyDefaults(keys)
	c.Archive.applyDefaults(keys)
	c.Reconcile.applyDefaults(keys)
	c.Ranges.applyDefaults(keys)
	c.Patch.applyDefaults(keys)
	c.Batch.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
	)
}

func (p *PathsConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("paths.indicators_dir", &p.IndicatorsDir, defaultIndicatorsDir),
		stringFieldDefault("paths.block_settings", &p.BlockSettings, defaultBlockSettings),
		stringFieldDefault("paths.mapping_file", &p.MappingFile, defaultMappingFile),
		stringFieldDefault("paths.calibration_file", &p.CalibrationFile, defaultCalibrationFile),
		stringFieldDefault("paths.ranges_dir", &p.RangesDir, defaultRangesDir),
		stringFieldDefault("paths.output_dir", &p.OutputDir, defaultOutputDir),
	)
}

func (a *ArchiveConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("archive.document_path", &a.DocumentPath, defaultDocumentPath),
		stringFieldDefault("archive.extension", &a.Extension, defaultArchiveExtension),
		stringFieldDefault("archive.indicator_ext", &a.IndicatorExt, defaultIndicatorExt),
	)
	a.Extension = strings.TrimPrefix(strings.TrimSpace(a.Extension), ".")
	if a.IndicatorExt != "" && !strings.HasPrefix(a.IndicatorExt, ".") {
		a.IndicatorExt = "." + a.IndicatorExt
	}
}

func (r *ReconcileConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("reconcile.internal_prefix", &r.InternalPrefix, defaultInternalPrefix),
		fieldDefault{
			key:   "reconcile.first_pass.limit",
			need:  func() bool { return r.FirstPass.Limit <= 0 },
			apply: func() { r.FirstPass.Limit = defaultFirstPassLimit },
		},
		fieldDefault{
			key:   "reconcile.first_pass.cutoff",
			need:  func() bool { return r.FirstPass.Cutoff <= 0 },
			apply: func() { r.FirstPass.Cutoff = defaultFirstPassCutoff },
		},
		fieldDefault{
			key:   "reconcile.second_pass.limit",
			need:  func() bool { return r.SecondPass.Limit <= 0 },
			apply: func() { r.SecondPass.Limit = defaultSecondPassLimit },
		},
		fieldDefault{
			key:   "reconcile.second_pass.cutoff",
			need:  func() bool { return r.SecondPass.Cutoff <= 0 },
			apply: func() { r.SecondPass.Cutoff = defaultSecondPassCutoff },
		},
	)
}

func (r *RangesConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "ranges.decimals",
			need:  func() bool { return r.Decimals <= 0 },
			apply: func() { r.Decimals = defaultRangeDecimals },
		},
		boolFieldDefault("ranges.validate_schema", &r.ValidateSchema, true),
	)
}

func (p *PatchConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	if !keys.isSet("patch.indicator_categories") && len(p.IndicatorCategories) == 0 {
		p.IndicatorCategories = []string{defaultIndicatorCategory}
	}
	if !keys.isSet("patch.range_categories") && len(p.RangeCategories) == 0 {
		p.RangeCategories = []string{defaultStopLimitCategory}
	}
	p.IndicatorCategories = normalizeList(p.IndicatorCategories)
	p.RangeCategories = normalizeList(p.RangeCategories)
	applyFieldDefaults(keys,
		stringFieldDefault("patch.attributes.min", &p.Attributes.Min, defaultIndicatorAttrMin),
		stringFieldDefault("patch.attributes.max", &p.Attributes.Max, defaultIndicatorAttrMax),
		stringFieldDefault("patch.attributes.step", &p.Attributes.Step, defaultIndicatorAttrStep),
	)
}

func (b *BatchConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("batch.mode", &b.Mode, defaultBatchMode),
		fieldDefault{
			key:   "batch.workers",
			need:  func() bool { return b.Workers <= 0 },
			apply: func() { b.Workers = defaultBatchWorkers },
		},
	)
	b.Mode = strings.ToLower(strings.TrimSpace(b.Mode))
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
		fieldDefault{
			key:   "http.max_upload_mb",
			need:  func() bool { return h.MaxUploadMB <= 0 },
			apply: func() { h.MaxUploadMB = defaultHTTPMaxUploadMB },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
