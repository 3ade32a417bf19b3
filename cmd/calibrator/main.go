package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"calibrator/internal/app"
	"calibrator/internal/batch"
	"calibrator/internal/config"
	"calibrator/internal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagKeys 将命令行参数映射到配置路径；只有显式给出的参数才会覆盖配置文件。
var flagKeys = map[string]string{
	"log-level":        "app.log_level",
	"indicators":       "paths.indicators_dir",
	"block-settings":   "paths.block_settings",
	"asset":            "asset",
	"activo":           "asset",
	"mapping-file":     "paths.mapping_file",
	"calibration-file": "paths.calibration_file",
	"generate-mapping": "reconcile.generate_mapping",
	"ranges-dir":       "paths.ranges_dir",
	"output-dir":       "paths.output_dir",
	"mode":             "batch.mode",
	"workers":          "batch.workers",
	"store":            "store.path",
	"addr":             "http.addr",
}

type session struct {
	cfgFile string
	cfg     *config.Config
	app     *app.App
	files   []*os.File
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCmd 构建命令树。
func NewRootCmd() *cobra.Command {
	s := &session{}
	root := &cobra.Command{
		Use:   "calibrator",
		Short: "Calibrate strategy BlockSettings archives per timeframe",
		Long: `calibrator matches SQX indicator blocks with MT5 indicators, aggregates
calibration ranges per timeframe and writes one patched BlockSettings archive
for each timeframe.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return s.open(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// 出错时 PersistentPostRun 不会执行，统一在 finalize 中释放
	cobra.OnFinalize(s.close)
	root.PersistentFlags().StringVar(&s.cfgFile, "config", os.Getenv("CALIBRATOR_CONFIG"), "config file (env CALIBRATOR_CONFIG; empty uses defaults)")
	root.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")
	root.PersistentFlags().String("store", "", "sqlite run ledger path (empty disables)")

	root.AddCommand(
		newRunCommand(s),
		newMapCommand(s),
		newRangesCommand(s),
		newPatchCommand(s),
		newServeCommand(s),
	)
	return root
}

func (s *session) open(cmd *cobra.Command) error {
	cfg, err := config.LoadWithOverrides(s.cfgFile, overridesFrom(cmd.Flags()))
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	s.cfg = cfg
	if f, err := setupLogOutput(cfg.App.LogPath); err != nil {
		return fmt.Errorf("初始化日志文件失败: %w", err)
	} else if f != nil {
		s.files = append(s.files, f)
	}
	logger.SetReportWriter(nil)
	if f, err := setupReportOutput(cfg.App.ReportPath); err != nil {
		return fmt.Errorf("初始化报告文件失败: %w", err)
	} else if f != nil {
		s.files = append(s.files, f)
	}
	logger.SetLevel(cfg.App.LogLevel)
	if s.cfgFile != "" {
		logger.Infof("✓ 配置加载成功（环境=%s，文件=%s）", cfg.App.Env, s.cfgFile)
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	s.app = a
	return nil
}

func (s *session) close() {
	if s.app != nil {
		if err := s.app.Close(); err != nil {
			logger.Warnf("close app: %v", err)
		}
		s.app = nil
	}
	for _, f := range s.files {
		_ = f.Close()
	}
	s.files = nil
}

// overridesFrom 收集显式设置的参数。
func overridesFrom(fs *pflag.FlagSet) map[string]any {
	out := make(map[string]any)
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		out[key] = f.Value.String()
	})
	return out
}

func addPathFlags(fs *pflag.FlagSet, mapping bool) {
	fs.String("indicators", "", "directory with MT5 indicator binaries")
	fs.String("block-settings", "", "template BlockSettings archive")
	fs.String("asset", "", "asset symbol used in output names")
	fs.String("activo", "", "alias of --asset")
	fs.String("mapping-file", "", "mapping JSON path")
	fs.String("calibration-file", "", "calibration JSON path")
	fs.String("ranges-dir", "", "directory for per-timeframe range tables")
	fs.String("output-dir", "", "directory for calibrated archives")
	if mapping {
		fs.BoolP("generate-mapping", "m", false, "regenerate the mapping before calibrating")
	}
}

func newRunCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run mapping (optional), range tables and archive generation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := s.app.Service().Run(cmd.Context(), s.app.Request())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d archive(s) in %s\n",
				res.RunID, len(res.Report.Outputs()), s.cfg.Paths.OutputDir)
			return failedTimeframes(res.Report.Failed())
		},
	}
	addPathFlags(cmd.Flags(), true)
	cmd.Flags().String("mode", "", "tables (write range tables first) or direct")
	cmd.Flags().Int("workers", 0, "timeframes processed in parallel")
	return cmd
}

func newMapCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Only build the external → internal mapping",
		RunE: func(cmd *cobra.Command, _ []string) error {
			match, err := s.app.Service().BuildMapping(cmd.Context(), s.app.Request())
			if err != nil {
				return err
			}
			table := match.Table()
			fmt.Fprintf(cmd.OutOrStdout(), "%d names, %d unresolved → %s\n",
				len(table), table.UnresolvedCount(), s.cfg.Paths.MappingFile)
			return nil
		},
	}
	addPathFlags(cmd.Flags(), false)
	return cmd
}

func newRangesCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranges",
		Short: "Only build the per-timeframe range tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			files, err := s.app.Service().BuildRanges(cmd.Context(), s.app.Request())
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	addPathFlags(cmd.Flags(), false)
	return cmd
}

func newPatchCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Generate archives from an existing ranges directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := s.app.Service().Patch(cmd.Context(), s.app.Request())
			if err != nil {
				return err
			}
			for _, out := range report.Outputs() {
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			return failedTimeframes(report.Failed())
		},
	}
	addPathFlags(cmd.Flags(), false)
	cmd.Flags().Int("workers", 0, "timeframes processed in parallel")
	return cmd
}

func newServeCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload/download HTTP interface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.app.Serve(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().String("indicators", "", "default MT5 indicator directory")
	cmd.Flags().String("asset", "", "default asset symbol")
	return cmd
}

func failedTimeframes(failed []batch.Outcome) error {
	if len(failed) == 0 {
		return nil
	}
	tfs := make([]string, 0, len(failed))
	for _, o := range failed {
		tfs = append(tfs, o.Timeframe)
	}
	return fmt.Errorf("%d timeframe(s) failed: %s", len(failed), strings.Join(tfs, ", "))
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupReportOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetReportWriter(f)
	return f, nil
}
