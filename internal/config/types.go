package config

import "strings"

// Config 是 calibrator 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Asset     string          `toml:"asset"`
	Paths     PathsConfig     `toml:"paths"`
	Archive   ArchiveConfig   `toml:"archive"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Ranges    RangesConfig    `toml:"ranges"`
	Patch     PatchConfig     `toml:"patch"`
	Batch     BatchConfig     `toml:"batch"`
	Store     StoreConfig     `toml:"store"`
	HTTP      HTTPConfig      `toml:"http"`
}

type AppConfig struct {
	Env        string `toml:"env"`
	LogLevel   string `toml:"log_level"`
	LogPath    string `toml:"log_path"`
	ReportPath string `toml:"report_path"`
}

// PathsConfig 描述一次运行涉及的输入/输出路径。
type PathsConfig struct {
	IndicatorsDir   string `toml:"indicators_dir"`
	BlockSettings   string `toml:"block_settings"`
	MappingFile     string `toml:"mapping_file"`
	CalibrationFile string `toml:"calibration_file"`
	RangesDir       string `toml:"ranges_dir"`
	OutputDir       string `toml:"output_dir"`
}

// ArchiveConfig 描述 BlockSettings 压缩包的内部约定。
type ArchiveConfig struct {
	DocumentPath string `toml:"document_path"`
	Extension    string `toml:"extension"`
	IndicatorExt string `toml:"indicator_ext"`
}

type PassConfig struct {
	Limit  int     `toml:"limit"`
	Cutoff float64 `toml:"cutoff"`
}

// ReconcileConfig 控制名称匹配：前缀、别名与两轮模糊匹配阈值。
type ReconcileConfig struct {
	InternalPrefix  string            `toml:"internal_prefix"`
	AliasesPath     string            `toml:"aliases_path"`
	WatchAliases    bool              `toml:"watch_aliases"`
	Aliases         map[string]string `toml:"aliases"`
	FirstPass       PassConfig        `toml:"first_pass"`
	SecondPass      PassConfig        `toml:"second_pass"`
	OnlyUsedBlocks  bool              `toml:"only_used_blocks"`
	GenerateMapping bool              `toml:"generate_mapping"`
}

type RangesConfig struct {
	Decimals       int  `toml:"decimals"`
	ValidateSchema bool `toml:"validate_schema"`
}

type AttributesConfig struct {
	Min  string `toml:"min"`
	Max  string `toml:"max"`
	Step string `toml:"step"`
}

// PatchConfig 控制哪些 Block 会被改写。
type PatchConfig struct {
	IndicatorCategories []string         `toml:"indicator_categories"`
	RangeCategories     []string         `toml:"range_categories"`
	Attributes          AttributesConfig `toml:"attributes"`
	// SkipDisabled 为 true 时跳过未启用的 Block；默认 false，与原有行为一致。
	SkipDisabled bool `toml:"skip_disabled"`
}

const (
	ModeTables = "tables"
	ModeDirect = "direct"
)

type BatchConfig struct {
	Mode    string `toml:"mode"`
	Workers int    `toml:"workers"`
}

// StoreConfig 运行记录（sqlite）；Path 为空时不记录。
type StoreConfig struct {
	Path string `toml:"path"`
}

type HTTPConfig struct {
	Addr         string `toml:"addr"`
	MaxUploadMB  int    `toml:"max_upload_mb"`
	WorkDir      string `toml:"work_dir"`
	KeepWorkDirs bool   `toml:"keep_work_dirs"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
