package calibrate

import (
	"strings"

	"calibrator/internal/config"
	"calibrator/internal/reconcile"
	"calibrator/internal/sqx"
)

// Options 是服务级别的固定参数，来自配置文件。
type Options struct {
	DocumentPath   string
	Extension      string
	IndicatorExt   string
	InternalPrefix string
	FirstPass      reconcile.Pass
	SecondPass     reconcile.Pass
	OnlyUsedBlocks bool
	Decimals       int
	ValidateSchema bool
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DocumentPath:   cfg.Archive.DocumentPath,
		Extension:      cfg.Archive.Extension,
		IndicatorExt:   cfg.Archive.IndicatorExt,
		InternalPrefix: cfg.Reconcile.InternalPrefix,
		FirstPass:      reconcile.Pass{Limit: cfg.Reconcile.FirstPass.Limit, Cutoff: cfg.Reconcile.FirstPass.Cutoff},
		SecondPass:     reconcile.Pass{Limit: cfg.Reconcile.SecondPass.Limit, Cutoff: cfg.Reconcile.SecondPass.Cutoff},
		OnlyUsedBlocks: cfg.Reconcile.OnlyUsedBlocks,
		Decimals:       cfg.Ranges.Decimals,
		ValidateSchema: cfg.Ranges.ValidateSchema,
	}
}

// PatcherOptions 将 patch 配置转换为 sqx.Options。
func PatcherOptions(cfg *config.Config) sqx.Options {
	return sqx.Options{
		Plan: sqx.PlanOptions{
			IndicatorCategories: cfg.Patch.IndicatorCategories,
			RangeCategories:     cfg.Patch.RangeCategories,
			SkipDisabled:        cfg.Patch.SkipDisabled,
		},
		Attributes: sqx.Attributes{
			Min:  cfg.Patch.Attributes.Min,
			Max:  cfg.Patch.Attributes.Max,
			Step: cfg.Patch.Attributes.Step,
		},
	}
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.DocumentPath) == "" {
		o.DocumentPath = sqx.DefaultDocumentPath
	}
	if strings.TrimSpace(o.Extension) == "" {
		o.Extension = sqx.DefaultExtension
	}
	if strings.TrimSpace(o.IndicatorExt) == "" {
		o.IndicatorExt = ".ex5"
	}
	if o.Decimals < 0 {
		o.Decimals = 0
	}
	return o
}

// Request 描述一次运行的输入输出路径。
type Request struct {
	Asset           string
	IndicatorsDir   string
	BlockSettings   string
	MappingFile     string
	CalibrationFile string
	RangesDir       string
	OutputDir       string
	Mode            string
	GenerateMapping bool
}

// RequestFromConfig 使用配置中的路径与开关构造请求。
func RequestFromConfig(cfg *config.Config) Request {
	return Request{
		Asset:           cfg.Asset,
		IndicatorsDir:   cfg.Paths.IndicatorsDir,
		BlockSettings:   cfg.Paths.BlockSettings,
		MappingFile:     cfg.Paths.MappingFile,
		CalibrationFile: cfg.Paths.CalibrationFile,
		RangesDir:       cfg.Paths.RangesDir,
		OutputDir:       cfg.Paths.OutputDir,
		Mode:            cfg.Batch.Mode,
		GenerateMapping: cfg.Reconcile.GenerateMapping,
	}
}
