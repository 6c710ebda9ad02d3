package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ladder/internal/config"
	"ladder/internal/logger"
	"ladder/internal/plan"
	"ladder/internal/reconcile"
	"ladder/internal/scheduler"
	"ladder/internal/session"
	"ladder/internal/store"
	"ladder/internal/store/gormstore"
	apihttp "ladder/internal/transport/http"
)

// App wires the execution engine together: store, trading service,
// reconciliation sweep, plan watcher, and the HTTP API.
type App struct {
	cfg *config.Config

	store     store.Store
	registry  *session.Registry
	trading   *session.TradingService
	reconcile *reconcile.Service
	server    *apihttp.Server
	watcher   *plan.Watcher
}

// New builds the application from configuration without starting it.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	st, err := gormstore.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	registry := session.NewRegistry()
	trading := session.NewTradingService(st, registry, cfg)
	rec := reconcile.New(st, trading)

	router := apihttp.NewRouter(st, trading, rec)
	server, err := apihttp.NewServer(cfg.Server.Addr, router)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		trading:   trading,
		reconcile: rec,
		server:    server,
	}
	if cfg.Plans.Watch {
		a.watcher = plan.NewWatcher(cfg.Plans.Dir, a.ingestPlan)
	}
	return a, nil
}

// Run starts every component and blocks until ctx is done or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)
	a.trading.Bind(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		sched := &scheduler.IntervalScheduler{
			Name:           "reconcile",
			Interval:       a.cfg.Sync.Interval(),
			RunImmediately: a.cfg.Sync.RunOnStart,
		}
		sched.Start(ctx, func(ctx context.Context) {
			if _, err := a.reconcile.SyncAll(ctx); err != nil {
				logger.Warnf("⚠️ 定时同步失败: %v", err)
			}
		})
		return nil
	})

	if a.watcher != nil {
		group.Go(func() error {
			return a.watcher.Run(ctx)
		})
	}

	logger.Infof("✓ ladder 已启动: http=%s exchange=%s sync=%s",
		a.server.Addr(), a.cfg.Exchange.Name, a.cfg.Sync.Interval())

	err := group.Wait()
	a.trading.StopAll()
	if cerr := a.store.Close(); cerr != nil {
		logger.Warnf("关闭数据库失败: %v", cerr)
	}
	return err
}

// ingestPlan persists a plan dropped into the watch directory as a
// PENDING trade. Starting it stays a deliberate action via the API.
func (a *App) ingestPlan(ctx context.Context, p *plan.TradePlan, sourcePath string) error {
	_, err := a.trading.CreateTrade(ctx, p)
	return err
}
