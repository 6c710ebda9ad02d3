package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"ladder/internal/exchange"
	"ladder/internal/logger"
	"ladder/internal/metrics"
	"ladder/internal/session"
	"ladder/internal/store"
)

// Service reconciles persisted trades against the exchange. It is the
// only component that marks a trade CLOSED from observed state: a trade
// with no position left on the venue gets closed with reason
// "sync_no_position", a live one without a monitor gets its monitoring
// resumed.
type Service struct {
	store   store.Store
	trading *session.TradingService

	// running enforces single-flight: the periodic sweep and a manual
	// trigger must not interleave.
	running atomic.Bool
}

func New(st store.Store, trading *session.TradingService) *Service {
	return &Service{store: st, trading: trading}
}

// Summary is the outcome of one sweep.
type Summary struct {
	Synced  int `json:"synced"`
	Closed  int `json:"closed"`
	Resumed int `json:"resumed"`
	Errors  int `json:"errors"`
}

// ErrSyncInProgress is returned when a sweep is already running.
var ErrSyncInProgress = errors.New("同步正在进行中")

type outcome int

const (
	outcomeNoop outcome = iota
	outcomeClosed
	outcomeResumed
)

// SyncAll sweeps every ACTIVE/OPEN trade once.
func (s *Service) SyncAll(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, ErrSyncInProgress
	}
	defer s.running.Store(false)
	defer metrics.ReconcileRuns.Inc()

	var sum Summary
	trades, err := s.store.ListTradesByStatus(ctx, store.StatusActive, store.StatusOpen)
	if err != nil {
		return sum, err
	}
	if len(trades) == 0 {
		return sum, nil
	}

	client, err := s.trading.ExchangeClient(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoCredentials) {
			logger.Warnf("⚠️ 同步跳过: %v", err)
			return sum, nil
		}
		return sum, err
	}
	if err := client.Initialize(ctx); err != nil {
		return sum, fmt.Errorf("交易所初始化失败: %w", err)
	}

	for _, rec := range trades {
		out, err := s.syncOne(ctx, client, rec)
		if err != nil {
			sum.Errors++
			metrics.ReconcileErrors.Inc()
			logger.Warnf("⚠️ 同步 %s 失败: %v", rec.TradeID, err)
			continue
		}
		sum.Synced++
		switch out {
		case outcomeClosed:
			sum.Closed++
		case outcomeResumed:
			sum.Resumed++
		}
	}

	if sum.Closed > 0 || sum.Resumed > 0 || sum.Errors > 0 {
		logger.Infof("✓ 同步完成: synced=%d closed=%d resumed=%d errors=%d",
			sum.Synced, sum.Closed, sum.Resumed, sum.Errors)
	}
	return sum, nil
}

// syncOne settles one trade against the exchange.
//
//   - live session: refresh the position snapshot, nothing else to do
//   - flat on the venue: the trade is over (stop-out, final TP, manual
//     close, or entries never filled) — mark CLOSED
//   - live position without a monitor: resume monitoring
func (s *Service) syncOne(ctx context.Context, client exchange.Client, rec store.TradeRecord) (outcome, error) {
	symbol := client.CanonicalSymbol(rec.Symbol)
	pos, err := client.GetPosition(ctx, symbol)
	if err != nil {
		return outcomeNoop, err
	}

	if _, live := s.trading.Registry().Get(rec.TradeID); live {
		s.refreshSnapshot(ctx, rec.TradeID, pos)
		return outcomeNoop, nil
	}

	// 交易所为准: 无持仓即关闭, 残留挂单由 CloseTrade 顺带撤销
	if pos == nil || pos.Size <= 0 {
		if err := s.trading.CloseTrade(ctx, rec.TradeID, "sync_no_position"); err != nil {
			return outcomeNoop, err
		}
		return outcomeClosed, nil
	}

	s.refreshSnapshot(ctx, rec.TradeID, pos)
	if err := s.trading.Resume(ctx, rec); err != nil {
		return outcomeNoop, err
	}
	_ = s.store.AppendEvent(ctx, rec.TradeID, store.EventMonitoringResumed, map[string]any{
		"status":        string(rec.Status),
		"position_size": rec.PositionSize,
	})
	return outcomeResumed, nil
}

// refreshSnapshot mirrors the venue's position snapshot into the trade
// row. The USD size is notional (contracts × average entry), the same
// unit the monitor persists.
func (s *Service) refreshSnapshot(ctx context.Context, tradeID string, pos *exchange.Position) {
	if pos == nil || pos.Size <= 0 {
		return
	}
	if err := s.store.UpdateTradeFields(ctx, tradeID, map[string]any{
		"avg_entry":      pos.EntryPrice,
		"position_size":  pos.Size * pos.EntryPrice,
		"unrealized_pnl": pos.UnrealizedPnL,
	}); err != nil {
		logger.Warnf("更新 %s 持仓快照失败: %v", tradeID, err)
	}
}
