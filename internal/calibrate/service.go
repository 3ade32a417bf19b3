// Package calibrate runs the full pipeline: mapping, range tables and one
// patched archive per timeframe.
package calibrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"calibrator/internal/batch"
	"calibrator/internal/catalog"
	"calibrator/internal/config"
	"calibrator/internal/logger"
	"calibrator/internal/pkg/text"
	"calibrator/internal/ranges"
	"calibrator/internal/reconcile"
	"calibrator/internal/sqx"
	"calibrator/internal/store"
	"calibrator/internal/store/model"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ErrMissingInput 表示必需的输入文件或目录不存在。
var ErrMissingInput = errors.New("missing input")

var log = logger.Named("calibrate")

// AliasSource 提供当前生效的别名表（静态或热更新）。
type AliasSource interface {
	AliasTable() reconcile.AliasTable
}

// StaticAliases 是固定不变的别名表。
type StaticAliases map[string]string

func (s StaticAliases) AliasTable() reconcile.AliasTable {
	return reconcile.NewAliasTable(s)
}

// Result 汇总一次运行。
type Result struct {
	RunID            string
	Mapping          reconcile.MappingTable
	MappingGenerated bool
	Unresolved       []string
	RangeFiles       []string
	Report           *batch.Report
}

type Service struct {
	opts    Options
	aliases AliasSource
	orch    *batch.Orchestrator
	ledger  *store.Ledger
	now     func() time.Time
}

func NewService(opts Options, aliases AliasSource, orch *batch.Orchestrator, ledger *store.Ledger) *Service {
	if aliases == nil {
		aliases = StaticAliases(reconcile.DefaultAliases())
	}
	return &Service{
		opts:    opts.withDefaults(),
		aliases: aliases,
		orch:    orch,
		ledger:  ledger,
		now:     time.Now,
	}
}

// NewFromConfig 按配置组装服务；aliases 为 nil 时使用配置中的别名叠加内置别名。
func NewFromConfig(cfg *config.Config, aliases AliasSource, ledger *store.Ledger) *Service {
	if aliases == nil {
		aliases = StaticAliases(MergeAliases(reconcile.DefaultAliases(), cfg.Reconcile.Aliases))
	}
	patcher := sqx.NewPatcher(PatcherOptions(cfg))
	return NewService(OptionsFromConfig(cfg), aliases, batch.New(patcher, cfg.Batch.Workers), ledger)
}

// MergeAliases 返回 base 与 extra 的并集，同名时 extra 优先。
func MergeAliases(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (s *Service) Ledger() *store.Ledger {
	return s.ledger
}

func (s *Service) reconciler() *reconcile.Reconciler {
	return reconcile.New(reconcile.Options{
		InternalPrefix: s.opts.InternalPrefix,
		Aliases:        s.aliases.AliasTable(),
		FirstPass:      s.opts.FirstPass,
		SecondPass:     s.opts.SecondPass,
	})
}

// Run 执行完整流程。单个周期失败不会中断其它周期，失败信息在 Result.Report 中。
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	started := s.now()
	res := &Result{RunID: uuid.NewString()}
	err := s.run(ctx, req, res)
	if recErr := s.record(ctx, req, res, started, err); recErr != nil {
		log.Warnf("record run %s failed: %v", res.RunID, recErr)
	}
	if err != nil {
		return res, err
	}
	res.Report.Log()
	return res, nil
}

func (s *Service) run(ctx context.Context, req Request, res *Result) error {
	if err := requireFile(req.BlockSettings, "block settings"); err != nil {
		return err
	}
	if err := requireFile(req.CalibrationFile, "calibration file"); err != nil {
		return err
	}
	generate := req.GenerateMapping
	if !generate {
		if _, err := os.Stat(req.MappingFile); errors.Is(err, os.ErrNotExist) {
			log.Infof("mapping file %s not found, generating it", req.MappingFile)
			generate = true
		}
	}
	if generate {
		match, err := s.BuildMapping(ctx, req)
		if err != nil {
			return err
		}
		res.MappingGenerated = true
		res.Unresolved = match.Unresolved()
	}
	mapping, err := reconcile.LoadMapping(req.MappingFile)
	if err != nil {
		return err
	}
	res.Mapping = mapping
	ds, err := ranges.LoadDataset(req.CalibrationFile, s.opts.ValidateSchema)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	job := s.job(req)
	switch mode(req.Mode) {
	case config.ModeDirect:
		log.Infof("Creating calibrated archives from %s (direct)", req.BlockSettings)
		res.Report, err = s.orch.RunDataset(ctx, job, mapping, ds, s.opts.Decimals)
	default:
		res.RangeFiles, err = s.writeRanges(req, mapping, ds)
		if err != nil {
			return err
		}
		log.Infof("Creating calibrated archives from %s", req.BlockSettings)
		res.Report, err = s.orch.RunTables(ctx, job, req.RangesDir)
	}
	return err
}

// BuildMapping 读取两侧目录，匹配名称并写入 mapping 文件。
func (s *Service) BuildMapping(ctx context.Context, req Request) (reconcile.Result, error) {
	if err := requireFile(req.BlockSettings, "block settings"); err != nil {
		return reconcile.Result{}, err
	}
	log.Infof("Reading MT5 indicators from %s", req.IndicatorsDir)
	internal, err := catalog.ReadMT5(req.IndicatorsDir, s.opts.IndicatorExt)
	if err != nil {
		return reconcile.Result{}, err
	}
	if len(internal) == 0 {
		log.Warnf("no %s indicators found in %s", s.opts.IndicatorExt, req.IndicatorsDir)
	}
	log.Infof("Reading SQX indicators from %s", req.BlockSettings)
	external, err := catalog.ReadSQX(req.BlockSettings, s.opts.DocumentPath, s.opts.OnlyUsedBlocks)
	if err != nil {
		return reconcile.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return reconcile.Result{}, err
	}
	match := s.reconciler().Match(external, internal)
	if err := reconcile.SaveMapping(req.MappingFile, match.Table()); err != nil {
		return reconcile.Result{}, err
	}
	logMatch(match)
	log.Infof("✔ mapping updated → %s", req.MappingFile)
	return match, nil
}

// BuildRanges 只生成各周期的区间表。
func (s *Service) BuildRanges(ctx context.Context, req Request) ([]string, error) {
	mapping, err := reconcile.LoadMapping(req.MappingFile)
	if err != nil {
		return nil, err
	}
	ds, err := ranges.LoadDataset(req.CalibrationFile, s.opts.ValidateSchema)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.writeRanges(req, mapping, ds)
}

// Patch 只根据已有的区间表目录生成压缩包。
func (s *Service) Patch(ctx context.Context, req Request) (*batch.Report, error) {
	if err := requireFile(req.BlockSettings, "block settings"); err != nil {
		return nil, err
	}
	report, err := s.orch.RunTables(ctx, s.job(req), req.RangesDir)
	if err != nil {
		return nil, err
	}
	report.Log()
	return report, nil
}

func (s *Service) writeRanges(req Request, mapping reconcile.MappingTable, ds ranges.Dataset) ([]string, error) {
	tables := ranges.Build(mapping, ds, s.opts.Decimals)
	files, err := ranges.WriteTables(req.RangesDir, req.Asset, tables)
	if err != nil {
		return nil, err
	}
	log.Infof("✔ %d range tables written to %s", len(files), req.RangesDir)
	return files, nil
}

func (s *Service) job(req Request) batch.Job {
	return batch.Job{
		Template:     req.BlockSettings,
		DocumentPath: s.opts.DocumentPath,
		Asset:        req.Asset,
		OutputDir:    req.OutputDir,
		Extension:    s.opts.Extension,
	}
}

func (s *Service) record(ctx context.Context, req Request, res *Result, started time.Time, runErr error) error {
	if !s.ledger.Enabled() {
		return nil
	}
	run := &model.RunModel{
		ID:             res.RunID,
		Asset:          req.Asset,
		Template:       req.BlockSettings,
		Mode:           mode(req.Mode),
		MappingTotal:   len(res.Mapping),
		MappingMissing: res.Mapping.UnresolvedCount(),
		StartedAtUnix:  started.Unix(),
		FinishedAtUnix: s.now().Unix(),
	}
	var outcomes []model.TimeframeOutcomeModel
	switch {
	case runErr != nil:
		run.Status = model.RunStatusFailed
		run.Message = text.Truncate(runErr.Error(), maxMessageLen)
	case res.Report != nil:
		run.Timeframes = len(res.Report.Results)
		run.Outputs = len(res.Report.Outputs())
		run.Failed = len(res.Report.Failed())
		run.Status = runStatus(run.Outputs, run.Failed)
		if err := res.Report.Err(); err != nil {
			run.Message = text.Truncate(err.Error(), maxMessageLen)
		}
		for _, o := range res.Report.Results {
			outcomes = append(outcomes, outcomeModel(o))
		}
	}
	summary, err := json.Marshal(map[string]any{
		"unresolved":        res.Unresolved,
		"mapping_generated": res.MappingGenerated,
		"range_files":       res.RangeFiles,
	})
	if err != nil {
		return err
	}
	run.SummaryJSON = datatypes.JSON(summary)
	return s.ledger.Record(ctx, run, outcomes)
}

// maxMessageLen 限制写入运行记录的错误文本长度。
const maxMessageLen = 2000

func runStatus(outputs, failed int) model.RunStatus {
	switch {
	case failed == 0:
		return model.RunStatusOK
	case outputs == 0:
		return model.RunStatusFailed
	default:
		return model.RunStatusPartial
	}
}

func outcomeModel(o batch.Outcome) model.TimeframeOutcomeModel {
	m := model.TimeframeOutcomeModel{
		Timeframe:     o.Timeframe,
		OutputPath:    o.Path,
		Patched:       len(o.Patched),
		UnmatchedJSON: jsonList(o.Unmatched),
		DisabledJSON:  jsonList(o.Disabled),
	}
	if o.Err != nil {
		m.Error = text.Truncate(o.Err.Error(), maxMessageLen)
	}
	return m
}

func jsonList(items []string) datatypes.JSON {
	if items == nil {
		items = []string{}
	}
	raw, _ := json.Marshal(items)
	return datatypes.JSON(raw)
}

func logMatch(match reconcile.Result) {
	counts := match.Counts()
	log.Infof("mapping: %d exact, %d alias, %d fuzzy, %d unresolved",
		counts[reconcile.MethodExact], counts[reconcile.MethodAlias],
		counts[reconcile.MethodFuzzy], counts[reconcile.MethodUnresolved])
	unresolved := match.Unresolved()
	if len(unresolved) == 0 {
		return
	}
	var fuzzy []string
	for _, m := range match.Matches {
		if m.Method == reconcile.MethodFuzzy {
			fuzzy = append(fuzzy, fmt.Sprintf("%s → %s (%.2f)", m.External, m.Internal, m.Score))
		}
	}
	logger.LogReport("mapping", "resolution gaps", []logger.ReportSection{
		{Title: "UNRESOLVED", Lines: unresolved},
		{Title: "FUZZY", Lines: fuzzy},
	})
}

func mode(m string) string {
	if strings.EqualFold(strings.TrimSpace(m), config.ModeDirect) {
		return config.ModeDirect
	}
	return config.ModeTables
}

func requireFile(path, what string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: %s path is empty", ErrMissingInput, what)
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s %s", ErrMissingInput, what, path)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s %s is a directory", ErrMissingInput, what, path)
	}
	return nil
}
