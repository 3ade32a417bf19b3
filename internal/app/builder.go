package app

import (
	"context"
	"fmt"
	"strings"

	"calibrator/internal/calibrate"
	"calibrator/internal/config"
	cfgloader "calibrator/internal/config/loader"
	"calibrator/internal/logger"
	"calibrator/internal/reconcile"
	"calibrator/internal/store"
	"calibrator/internal/store/sqlite"
	calibratehttp "calibrator/internal/transport/http/calibrate"
)

type AppBuilder struct {
	cfg *config.Config

	ledgerFn  func(config.StoreConfig) (*store.Ledger, error)
	aliasesFn func(config.ReconcileConfig) (*cfgloader.AliasLoader, error)
	httpFn    func(config.HTTPConfig, *calibrate.Service, calibrate.Request) (*calibratehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithLedger 替换运行记录的构建方式（测试用）。
func WithLedger(fn func(config.StoreConfig) (*store.Ledger, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.ledgerFn = fn
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		ledgerFn:  buildLedger,
		aliasesFn: buildAliasLoader,
		httpFn:    buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	ledger, err := b.ledgerFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	aliases, err := b.aliasesFn(cfg.Reconcile)
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}
	var source calibrate.AliasSource
	if aliases != nil {
		source = aliases
	}
	svc := calibrate.NewFromConfig(cfg, source, ledger)
	httpSrv, err := b.httpFn(cfg.HTTP, svc, calibrate.RequestFromConfig(cfg))
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}

	aliasCount := len(calibrate.MergeAliases(reconcile.DefaultAliases(), cfg.Reconcile.Aliases))
	if aliases != nil {
		aliasCount = len(aliases.Snapshot().Aliases)
	}
	return &App{
		cfg:     cfg,
		svc:     svc,
		ledger:  ledger,
		aliases: aliases,
		http:    httpSrv,
		Summary: buildSummary(cfg, aliasCount, ledger.Enabled()),
	}, nil
}

func buildLedger(cfg config.StoreConfig) (*store.Ledger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, nil
	}
	st, err := sqlite.NewSqliteStore(cfg.Path)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ run ledger: %s", cfg.Path)
	return store.NewLedger(st), nil
}

// buildAliasLoader 返回 nil 表示未配置别名文件。
func buildAliasLoader(cfg config.ReconcileConfig) (*cfgloader.AliasLoader, error) {
	if strings.TrimSpace(cfg.AliasesPath) == "" {
		return nil, nil
	}
	base := calibrate.MergeAliases(reconcile.DefaultAliases(), cfg.Aliases)
	l, err := cfgloader.NewAliasLoader(cfg.AliasesPath, base, cfg.WatchAliases)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func buildHTTPServer(cfg config.HTTPConfig, svc *calibrate.Service, defaults calibrate.Request) (*calibratehttp.Server, error) {
	return calibratehttp.NewServer(calibratehttp.Config{
		Addr:         cfg.Addr,
		Svc:          svc,
		Defaults:     defaults,
		MaxUploadMB:  cfg.MaxUploadMB,
		WorkDir:      cfg.WorkDir,
		KeepWorkDirs: cfg.KeepWorkDirs,
	})
}
