package app

import (
	"context"
	"fmt"

	"calibrator/internal/calibrate"
	"calibrator/internal/config"
	cfgloader "calibrator/internal/config/loader"
	"calibrator/internal/logger"
	"calibrator/internal/store"
	calibratehttp "calibrator/internal/transport/http/calibrate"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→执行流程或启动 HTTP 服务。
type App struct {
	cfg     *config.Config
	svc     *calibrate.Service
	ledger  *store.Ledger
	aliases *cfgloader.AliasLoader
	http    *calibratehttp.Server
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Service 返回流程服务，供 CLI 子命令直接调用。
func (a *App) Service() *calibrate.Service {
	if a == nil {
		return nil
	}
	return a.svc
}

// Request 返回配置中的默认请求。
func (a *App) Request() calibrate.Request {
	return calibrate.RequestFromConfig(a.cfg)
}

// Serve 启动 HTTP 服务，阻塞直到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.http == nil {
		return fmt.Errorf("http server not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	group, ctx := errgroup.WithContext(ctx)
	if a.aliases != nil && a.cfg.Reconcile.WatchAliases {
		changes := make(chan cfgloader.AliasSnapshot, 1)
		a.aliases.Subscribe(func(snap cfgloader.AliasSnapshot) {
			select {
			case changes <- snap:
			default:
			}
		})
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case snap := <-changes:
					logger.Infof("alias table v%d active (%d entries)", snap.Version, len(snap.Aliases))
				}
			}
		})
	}
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close 释放运行记录数据库。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	return a.ledger.Close()
}
