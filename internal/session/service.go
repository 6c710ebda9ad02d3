package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ladder/internal/config"
	"ladder/internal/engine"
	"ladder/internal/exchange"
	"ladder/internal/exchange/factory"
	"ladder/internal/logger"
	"ladder/internal/metrics"
	"ladder/internal/plan"
	"ladder/internal/position"
	"ladder/internal/store"
)

// ErrNoCredentials is returned when no usable API credential exists for
// an operation that must reach the exchange.
var ErrNoCredentials = errors.New("没有可用的 API 凭证")

// TradingService owns the trade lifecycle: create from a plan, start
// (place orders + spawn monitor), resume after restart, close. It is
// the only writer of the session registry.
type TradingService struct {
	store    store.Store
	registry *Registry
	cfg      *config.Config

	// clientFactory is swappable in tests; defaults to factory.New.
	clientFactory func(name, apiKey, apiSecret string, testnet bool, callTimeout time.Duration) (exchange.Client, error)

	// rootCtx parents every monitor goroutine so shutdown stops them all.
	rootCtx context.Context
}

func NewTradingService(st store.Store, reg *Registry, cfg *config.Config) *TradingService {
	return &TradingService{
		store:         st,
		registry:      reg,
		cfg:           cfg,
		clientFactory: factory.New,
		rootCtx:       context.Background(),
	}
}

// Bind sets the parent context for monitor goroutines. Call once before
// starting trades.
func (s *TradingService) Bind(ctx context.Context) {
	if ctx != nil {
		s.rootCtx = ctx
	}
}

// SetClientFactory overrides how venue clients are built. Tests use it
// to substitute a fake exchange.
func (s *TradingService) SetClientFactory(fn func(name, apiKey, apiSecret string, testnet bool, callTimeout time.Duration) (exchange.Client, error)) {
	if fn != nil {
		s.clientFactory = fn
	}
}

func (s *TradingService) Registry() *Registry { return s.registry }

// NewTradeID builds ids like "SOL-SHORT-3c0c976d1ea5": readable symbol
// and direction up front, 12 hex chars of randomness behind.
func NewTradeID(symbol string, direction plan.Direction) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(symbol), direction, raw[:12])
}

// CreateTrade validates the plan and persists it as a PENDING trade.
// Nothing touches the exchange until StartTrade.
func (s *TradingService) CreateTrade(ctx context.Context, p *plan.TradePlan) (store.TradeRecord, error) {
	if err := p.Validate(); err != nil {
		return store.TradeRecord{}, err
	}
	setup := p.TradeSetup
	rec := store.TradeRecord{
		TradeID:        NewTradeID(setup.Symbol, setup.Direction),
		Symbol:         strings.ToUpper(setup.Symbol),
		Direction:      string(setup.Direction),
		Status:         store.StatusPending,
		MarginUSD:      setup.MarginUSD,
		Leverage:       setup.Leverage,
		EntryPrice:     setup.EntryPrice,
		AveragePrice:   setup.AveragePrice,
		StopLoss:       setup.StopLoss,
		MaxLossPercent: setup.MaxLossPercent,
		CurrentSLPrice: setup.StopLoss,
		Notes:          p.Notes,
	}
	for _, e := range p.OrderEntries {
		rec.Entries = append(rec.Entries, store.EntryRecord{
			Label:            e.Label,
			Price:            e.Price,
			SizeUSD:          e.SizeUSD,
			AverageAfterFill: e.Average,
		})
	}
	for _, tp := range p.TakeProfits {
		rec.TakeProfits = append(rec.TakeProfits, store.TakeProfitRecord{
			Level:       tp.Level,
			Price:       tp.Price,
			SizePercent: tp.SizePercent,
		})
	}
	created, err := s.store.CreateTrade(ctx, rec)
	if err != nil {
		return store.TradeRecord{}, err
	}
	logger.Infof("✓ 交易计划已入库: %s (%s %s, 保证金 %.2f USD)",
		created.TradeID, created.Symbol, created.Direction, created.MarginUSD)
	return created, nil
}

// StartTrade takes a PENDING trade live: configure the contract, stage
// the entry orders, spawn the monitor.
func (s *TradingService) StartTrade(ctx context.Context, tradeID string) error {
	rec, ok, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("交易 %s 不存在", tradeID)
	}
	if rec.Status != store.StatusPending {
		return fmt.Errorf("交易 %s 状态为 %s, 无法启动", tradeID, rec.Status)
	}
	if _, exists := s.registry.Get(tradeID); exists {
		return fmt.Errorf("交易 %s 已在监控中", tradeID)
	}

	client, err := s.buildClient(ctx)
	if err != nil {
		return err
	}
	if err := client.Initialize(ctx); err != nil {
		return fmt.Errorf("交易所初始化失败: %w", err)
	}

	p := planFromRecord(rec)
	state := position.NewState(p.TradeSetup.Symbol, p.TradeSetup.Direction,
		p.TradeSetup.StopLoss, len(p.OrderEntries))
	mgr := engine.NewOrderManager(client, s.store, tradeID, p, state,
		s.cfg.Trading.SLOffsetPercent)

	if err := mgr.InitializeTrade(ctx); err != nil {
		// 已挂出的订单保留, 订单号已入库, 交由对账处理
		return err
	}

	now := time.Now()
	if err := s.store.UpdateTradeFields(ctx, tradeID, map[string]any{
		"status":     string(store.StatusActive),
		"started_at": now,
	}); err != nil {
		return err
	}
	_ = s.store.AppendEvent(ctx, tradeID, store.EventTradeStarted, map[string]any{
		"symbol":    rec.Symbol,
		"direction": rec.Direction,
		"entries":   len(rec.Entries),
	})

	s.launch(client, p, state, mgr, tradeID)
	logger.Infof("✓ 交易已启动: %s", tradeID)
	return nil
}

// Resume rebuilds a live session for an ACTIVE/OPEN trade found without
// one (typically after a restart). Runtime fill state and the resting
// stop's order id come from the persisted record, so the next stop move
// can cancel the old order instead of stacking a second one.
func (s *TradingService) Resume(ctx context.Context, rec store.TradeRecord) error {
	if _, exists := s.registry.Get(rec.TradeID); exists {
		return nil
	}
	client, err := s.buildClient(ctx)
	if err != nil {
		return err
	}
	if err := client.Initialize(ctx); err != nil {
		return fmt.Errorf("交易所初始化失败: %w", err)
	}

	p := planFromRecord(rec)
	state := position.NewState(p.TradeSetup.Symbol, p.TradeSetup.Direction,
		p.TradeSetup.StopLoss, len(p.OrderEntries))

	var filledEntries, filledTPs []string
	for _, e := range rec.Entries {
		if e.Filled {
			filledEntries = append(filledEntries, e.Label)
		}
	}
	for _, tp := range rec.TakeProfits {
		if tp.Filled {
			filledTPs = append(filledTPs, tp.Level)
		}
	}
	state.Restore(filledEntries, filledTPs, rec.AvgEntry, rec.PositionSize, rec.CurrentSLPrice)
	if rec.CurrentSLOrderID != "" {
		state.SetStop(rec.CurrentSLPrice, rec.CurrentSLOrderID)
	}

	mgr := engine.NewOrderManager(client, s.store, rec.TradeID, p, state,
		s.cfg.Trading.SLOffsetPercent)
	s.launch(client, p, state, mgr, rec.TradeID)
	logger.Infof("✓ 已恢复监控: %s (已成交入场 %d, 已成交止盈 %d)",
		rec.TradeID, len(filledEntries), len(filledTPs))
	return nil
}

// CloseTrade force-closes a trade: stop monitoring, cancel orders, flat
// the position, mark CLOSED. Without a live session it still resolves
// credentials and closes best-effort; the record is finalized either way.
func (s *TradingService) CloseTrade(ctx context.Context, tradeID, reason string) error {
	if reason == "" {
		reason = "manual"
	}
	if sess, ok := s.registry.Get(tradeID); ok {
		sess.Monitor.Stop()
		s.registry.Remove(tradeID)
		if err := sess.Manager.CloseEntirePosition(ctx); err != nil {
			logger.Warnf("⚠️ %s 平仓失败, 仍标记关闭: %v", tradeID, err)
		}
		return s.finalizeClosed(ctx, tradeID, reason)
	}

	rec, ok, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("交易 %s 不存在", tradeID)
	}
	if rec.Status == store.StatusClosed {
		return nil
	}
	// no session: try the exchange anyway, the position may be live
	if client, cerr := s.buildClient(ctx); cerr == nil {
		if ierr := client.Initialize(ctx); ierr == nil {
			p := planFromRecord(rec)
			state := position.NewState(p.TradeSetup.Symbol, p.TradeSetup.Direction,
				rec.CurrentSLPrice, len(p.OrderEntries))
			mgr := engine.NewOrderManager(client, s.store, tradeID, p, state,
				s.cfg.Trading.SLOffsetPercent)
			if err := mgr.CloseEntirePosition(ctx); err != nil {
				logger.Warnf("⚠️ %s 平仓失败, 仍标记关闭: %v", tradeID, err)
			}
		}
	} else if !errors.Is(cerr, ErrNoCredentials) {
		logger.Warnf("⚠️ %s 构建交易所客户端失败: %v", tradeID, cerr)
	}
	return s.finalizeClosed(ctx, tradeID, reason)
}

// StopAll stops every monitor without touching the exchange. Used on
// shutdown; the trades resume on next start via reconciliation.
func (s *TradingService) StopAll() {
	for _, sess := range s.registry.List() {
		sess.Monitor.Stop()
		s.registry.Remove(sess.TradeID)
	}
}

func (s *TradingService) launch(client exchange.Client, p *plan.TradePlan, state *position.State, mgr *engine.OrderManager, tradeID string) {
	mon := engine.NewMonitor(mgr, s.cfg.Trading.PollInterval(), s.onFlat)
	sess := &Session{
		TradeID: tradeID,
		Client:  client,
		Plan:    p,
		State:   state,
		Manager: mgr,
		Monitor: mon,
	}
	if err := s.registry.Add(sess); err != nil {
		logger.Warnf("注册 session 失败: %v", err)
		return
	}
	go mon.Run(s.rootCtx)
}

// onFlat runs when a monitor sees its position gone. The session is
// dropped; the reconciliation sweep settles the record against the
// exchange and marks it CLOSED.
func (s *TradingService) onFlat(tradeID string) {
	s.registry.Remove(tradeID)
}

func (s *TradingService) finalizeClosed(ctx context.Context, tradeID, reason string) error {
	if err := s.store.UpdateTradeFields(ctx, tradeID, map[string]any{
		"status":    string(store.StatusClosed),
		"closed_at": time.Now(),
	}); err != nil {
		return err
	}
	_ = s.store.AppendEvent(ctx, tradeID, store.EventTradeClosed, map[string]any{
		"reason": reason,
	})
	metrics.TradesClosed.WithLabelValues(reason).Inc()
	logger.Infof("✓ 交易已关闭: %s (%s)", tradeID, reason)
	return nil
}

// ExchangeClient hands out a client built from the resolved credential,
// for callers outside the trade lifecycle (reconciliation).
func (s *TradingService) ExchangeClient(ctx context.Context) (exchange.Client, error) {
	return s.buildClient(ctx)
}

// buildClient resolves a credential (default first, then the oldest
// active one) and constructs the matching venue client.
func (s *TradingService) buildClient(ctx context.Context) (exchange.Client, error) {
	cred, ok, err := s.store.DefaultCredential(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		creds, err := s.store.ListActiveCredentials(ctx)
		if err != nil {
			return nil, err
		}
		if len(creds) == 0 {
			return nil, ErrNoCredentials
		}
		cred = creds[0]
	}
	name := cred.Exchange
	if name == "" {
		name = s.cfg.Exchange.Name
	}
	testnet := cred.Testnet || s.cfg.Exchange.Testnet
	return s.clientFactory(name, cred.APIKey, cred.APISecret, testnet, s.cfg.Trading.CallTimeout())
}

// planFromRecord rebuilds the executable plan, runtime order state
// included, from the persisted trade.
func planFromRecord(rec store.TradeRecord) *plan.TradePlan {
	p := &plan.TradePlan{
		TradeSetup: plan.TradeSetup{
			Symbol:         rec.Symbol,
			Direction:      plan.Direction(rec.Direction),
			MarginUSD:      rec.MarginUSD,
			EntryPrice:     rec.EntryPrice,
			AveragePrice:   rec.AveragePrice,
			StopLoss:       rec.StopLoss,
			Leverage:       rec.Leverage,
			MaxLossPercent: rec.MaxLossPercent,
		},
		Notes: rec.Notes,
	}
	for _, e := range rec.Entries {
		p.OrderEntries = append(p.OrderEntries, plan.OrderEntry{
			Label:   e.Label,
			SizeUSD: e.SizeUSD,
			Price:   e.Price,
			Average: e.AverageAfterFill,
			Filled:  e.Filled,
			OrderID: e.OrderID,
		})
	}
	for _, tp := range rec.TakeProfits {
		p.TakeProfits = append(p.TakeProfits, plan.TakeProfit{
			Level:       tp.Level,
			Price:       tp.Price,
			SizePercent: tp.SizePercent,
			Filled:      tp.Filled,
			OrderID:     tp.OrderID,
		})
	}
	return p
}
