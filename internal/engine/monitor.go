package engine

import (
	"context"
	"sync"
	"time"

	"ladder/internal/logger"
	"ladder/internal/metrics"
	"ladder/internal/scheduler"
	"ladder/internal/store"
)

// Monitor polls one trade's orders and position on a fixed interval and
// reacts to fills: the first entry fill arms the stop and TP ladder,
// each later entry fill resizes the stop to the whole position, each TP
// fill cascades the stop. Every reaction is guarded by the persisted
// filled flags, so a repeated observation of the same fill is a no-op.
//
// The monitor never marks a trade CLOSED; when the position disappears
// it stops itself and hands off via the onFlat callback, and
// reconciliation settles the record.
type Monitor struct {
	mgr      *OrderManager
	tradeID  string
	interval time.Duration
	log      logger.Scoped

	onFlat func(tradeID string)

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

func NewMonitor(mgr *OrderManager, interval time.Duration, onFlat func(tradeID string)) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{
		mgr:      mgr,
		tradeID:  mgr.tradeID,
		interval: interval,
		log:      logger.WithTag(TradeIDTag(mgr.tradeID)),
		onFlat:   onFlat,
	}
}

// Run blocks until ctx is done or the position is gone. Ticks never
// overlap; a slow tick delays the next one.
func (m *Monitor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	sched := &scheduler.IntervalScheduler{
		Name:           "monitor:" + TradeIDTag(m.tradeID),
		Interval:       m.interval,
		RunImmediately: true,
	}
	sched.Start(ctx, m.tick)

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// Stop ends the poll loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// tick runs one poll pass: entries first (a fill may arm the ladder),
// then TPs (a fill moves the stop), then position liveness last so a
// fill and the resulting flat position are seen in the same pass.
func (m *Monitor) tick(ctx context.Context) {
	m.checkEntryFills(ctx)
	m.checkTPFills(ctx)
	m.checkLiveness(ctx)
	metrics.MonitorTicks.Inc()
}

func (m *Monitor) checkEntryFills(ctx context.Context) {
	p := m.mgr.Plan()
	for i := range p.OrderEntries {
		entry := &p.OrderEntries[i]
		if entry.Filled || entry.OrderID == "" {
			continue
		}
		order, err := m.mgr.Client().GetOrder(ctx, m.mgr.Symbol(), entry.OrderID)
		if err != nil {
			m.log.Warnf("查询入场单 %s 失败: %v", entry.Label, err)
			continue
		}
		if order == nil || !order.Status.Filled() {
			continue
		}

		entry.Filled = true
		fillPrice := order.Price
		if fillPrice <= 0 {
			fillPrice = entry.Price
		}
		m.mgr.State().AddFill(entry.Label, fillPrice, entry.SizeUSD)
		if err := m.mgr.store.UpdateEntryFill(ctx, m.tradeID, entry.Label, entry.OrderID, true); err != nil {
			m.log.Warnf("持久化 %s 成交失败: %v", entry.Label, err)
		}
		_ = m.mgr.store.AppendEvent(ctx, m.tradeID, store.EventOrderFilled, map[string]any{
			"label":     entry.Label,
			"order_id":  entry.OrderID,
			"price":     fillPrice,
			"size_usd":  entry.SizeUSD,
			"avg_entry": m.mgr.State().AverageEntry(),
		})
		metrics.OrderFills.WithLabelValues("entry").Inc()
		m.log.Infof("✓ %s 已成交 @%.6f, 均价 %.6f", entry.Label, fillPrice, m.mgr.State().AverageEntry())
		m.mgr.persistPositionFields(ctx)

		if m.mgr.State().FirstFill() {
			if err := m.mgr.onFirstFill(ctx); err != nil {
				m.log.Errorf("首次成交处理失败: %v", err)
			}
		} else if err := m.mgr.UpdateStopLoss(ctx, m.mgr.State().StopPrice()); err != nil {
			// 加仓后止损需覆盖全部仓位
			m.log.Errorf("止损改量失败: %v", err)
		}
	}
}

func (m *Monitor) checkTPFills(ctx context.Context) {
	p := m.mgr.Plan()
	for i := range p.TakeProfits {
		tp := &p.TakeProfits[i]
		if tp.Filled || tp.OrderID == "" {
			continue
		}
		order, err := m.mgr.Client().GetOrder(ctx, m.mgr.Symbol(), tp.OrderID)
		if err != nil {
			m.log.Warnf("查询止盈单 %s 失败: %v", tp.Level, err)
			continue
		}
		if order == nil || !order.Status.Filled() {
			continue
		}

		tp.Filled = true
		m.mgr.State().MarkTPFilled(tp.Level, i+1)
		if err := m.mgr.store.UpdateTakeProfitFill(ctx, m.tradeID, tp.Level, tp.OrderID, true); err != nil {
			m.log.Warnf("持久化 %s 成交失败: %v", tp.Level, err)
		}
		_ = m.mgr.store.AppendEvent(ctx, m.tradeID, store.EventTPHit, map[string]any{
			"level":    tp.Level,
			"order_id": tp.OrderID,
			"price":    tp.Price,
		})
		metrics.OrderFills.WithLabelValues("take_profit").Inc()
		m.log.Infof("✓ %s 已成交 @%.6f", tp.Level, tp.Price)
		m.mgr.persistPositionFields(ctx)

		if err := m.mgr.CascadeStopAfterTP(ctx, i); err != nil {
			m.log.Errorf("级联止损失败: %v", err)
		}
	}
}

// checkLiveness stops the loop once a previously-filled position is
// flat: stop-out, final TP, or a manual close on the venue.
func (m *Monitor) checkLiveness(ctx context.Context) {
	if !m.mgr.State().EverFilled() {
		return
	}
	pos, err := m.mgr.Client().GetPosition(ctx, m.mgr.Symbol())
	if err != nil {
		m.log.Warnf("查询持仓失败: %v", err)
		return
	}
	if pos != nil && pos.Size > 0 {
		return
	}
	m.log.Infof("仓位已不存在, 停止监控")
	if m.onFlat != nil {
		m.onFlat(m.tradeID)
	}
	m.Stop()
}
