package app

import (
	"fmt"
	"strings"

	"calibrator/internal/config"
)

type StartupSummary struct {
	Asset      string
	Mode       string
	Workers    int
	Template   string
	Indicators string
	Mapping    string
	Ranges     string
	Output     string
	Prefix     string
	Passes     [2]config.PassConfig
	Aliases    int
	Ledger     bool
	HTTPAddr   string
}

func buildSummary(cfg *config.Config, aliases int, ledger bool) *StartupSummary {
	return &StartupSummary{
		Asset:      cfg.Asset,
		Mode:       cfg.Batch.Mode,
		Workers:    cfg.Batch.Workers,
		Template:   cfg.Paths.BlockSettings,
		Indicators: cfg.Paths.IndicatorsDir,
		Mapping:    cfg.Paths.MappingFile,
		Ranges:     cfg.Paths.RangesDir,
		Output:     cfg.Paths.OutputDir,
		Prefix:     cfg.Reconcile.InternalPrefix,
		Passes:     [2]config.PassConfig{cfg.Reconcile.FirstPass, cfg.Reconcile.SecondPass},
		Aliases:    aliases,
		Ledger:     ledger,
		HTTPAddr:   cfg.HTTP.Addr,
	}
}

func (s *StartupSummary) Print() {
	fmt.Println(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 80) + "\n")
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	b.WriteString("[输入 (INPUTS)]\n")
	fmt.Fprintf(&b, "  资产: %s\n", orDash(s.Asset))
	fmt.Fprintf(&b, "  模板: %s\n", orDash(s.Template))
	fmt.Fprintf(&b, "  MT5 目录: %s\n", orDash(s.Indicators))
	fmt.Fprintf(&b, "  映射文件: %s\n", orDash(s.Mapping))
	b.WriteString("\n")

	b.WriteString("[匹配 (RECONCILE)]\n")
	fmt.Fprintf(&b, "  内部前缀: %s\n", orDash(s.Prefix))
	fmt.Fprintf(&b, "  模糊匹配: %d/%.2f → %d/%.2f\n",
		s.Passes[0].Limit, s.Passes[0].Cutoff, s.Passes[1].Limit, s.Passes[1].Cutoff)
	fmt.Fprintf(&b, "  别名数量: %d\n", s.Aliases)
	b.WriteString("\n")

	b.WriteString("[输出 (OUTPUTS)]\n")
	fmt.Fprintf(&b, "  模式: %s (workers=%d)\n", s.Mode, s.Workers)
	fmt.Fprintf(&b, "  区间目录: %s\n", orDash(s.Ranges))
	fmt.Fprintf(&b, "  输出目录: %s\n", orDash(s.Output))
	ledger := "关闭"
	if s.Ledger {
		ledger = "开启"
	}
	fmt.Fprintf(&b, "  运行记录: %s\n", ledger)
	fmt.Fprintf(&b, "  HTTP: %s\n", orDash(s.HTTPAddr))
	b.WriteString(strings.Repeat("=", 80))
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
