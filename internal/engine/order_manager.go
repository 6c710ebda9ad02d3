package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ladder/internal/exchange"
	"ladder/internal/logger"
	"ladder/internal/metrics"
	"ladder/internal/plan"
	"ladder/internal/position"
	"ladder/internal/store"
)

// OrderManager executes one trade plan against one exchange account. It
// owns the plan's runtime order state (which entries/TPs carry which
// order IDs); the Monitor drives it from a single goroutine.
type OrderManager struct {
	client exchange.Client
	store  store.Store

	tradeID string
	plan    *plan.TradePlan
	state   *position.State
	symbol  string // canonical contract id on the venue

	slOffsetPercent float64
	log             logger.Scoped
}

func NewOrderManager(client exchange.Client, st store.Store, tradeID string, p *plan.TradePlan, state *position.State, slOffsetPercent float64) *OrderManager {
	if slOffsetPercent <= 0 {
		slOffsetPercent = DefaultSLOffsetPercent
	}
	return &OrderManager{
		client:          client,
		store:           st,
		tradeID:         tradeID,
		plan:            p,
		state:           state,
		symbol:          client.CanonicalSymbol(p.TradeSetup.Symbol),
		slOffsetPercent: slOffsetPercent,
		log:             logger.WithTag(tradeID),
	}
}

func (m *OrderManager) Plan() *plan.TradePlan   { return m.plan }
func (m *OrderManager) State() *position.State  { return m.state }
func (m *OrderManager) Symbol() string          { return m.symbol }
func (m *OrderManager) Client() exchange.Client { return m.client }

// entrySide / exitSide follow the plan direction: a LONG buys in and
// sells out, a SHORT the other way round.
func (m *OrderManager) entrySide() exchange.Side {
	if m.plan.TradeSetup.Direction == plan.Short {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

func (m *OrderManager) exitSide() exchange.Side {
	if m.plan.TradeSetup.Direction == plan.Short {
		return exchange.SideBuy
	}
	return exchange.SideSell
}

// contractsFor converts an entry's USD size at a price into contracts,
// truncated to the venue's lot size. Sizing never rounds up: a slightly
// smaller position is safe, a larger one is not.
func (m *OrderManager) contractsFor(sizeUSD, price float64) float64 {
	if price <= 0 {
		return 0
	}
	raw, _ := decimal.NewFromFloat(sizeUSD).Div(decimal.NewFromFloat(price)).Float64()
	return m.client.FormatAmount(m.symbol, raw)
}

// InitializeTrade configures the contract and stages every entry order.
// No stop or take-profit order exists yet: those are placed on the
// first fill, once there is a position for reduce-only orders to act on.
func (m *OrderManager) InitializeTrade(ctx context.Context) error {
	setup := m.plan.TradeSetup

	if lev := setup.LeverageValue(); lev > 0 {
		if err := m.client.SetLeverage(ctx, m.symbol, lev); err != nil {
			return fmt.Errorf("设置杠杆失败: %w", err)
		}
	}
	if err := m.client.SetMarginMode(ctx, m.symbol, true); err != nil {
		m.log.Warnf("设置逐仓模式失败(忽略): %v", err)
	}

	for i := range m.plan.OrderEntries {
		entry := &m.plan.OrderEntries[i]
		amount := m.contractsFor(entry.SizeUSD, entry.Price)
		if amount <= 0 {
			return fmt.Errorf("%s 数量为 0 (sizeUSD=%.2f price=%.6f)", entry.Label, entry.SizeUSD, entry.Price)
		}
		price := m.client.FormatPrice(m.symbol, entry.Price)
		order, err := m.client.CreateLimitOrder(ctx, m.symbol, m.entrySide(), amount, price, false)
		if err != nil {
			return fmt.Errorf("%s 下单失败: %w", entry.Label, err)
		}
		entry.OrderID = order.ID
		if err := m.store.UpdateEntryFill(ctx, m.tradeID, entry.Label, order.ID, false); err != nil {
			m.log.Warnf("记录 %s 订单号失败: %v", entry.Label, err)
		}
		_ = m.store.AppendEvent(ctx, m.tradeID, store.EventOrderPlaced, map[string]any{
			"label":    entry.Label,
			"order_id": order.ID,
			"price":    price,
			"amount":   amount,
			"side":     string(m.entrySide()),
		})
		metrics.OrdersPlaced.WithLabelValues("entry").Inc()
		m.log.Infof("✓ %s 已挂单 @%.6f x%.6f (订单 %s)", entry.Label, price, amount, order.ID)
	}
	return nil
}

// PlaceTakeProfitOrders places the whole reduce-only TP ladder, sized as
// percentages of the live position. Called after the first entry fill.
func (m *OrderManager) PlaceTakeProfitOrders(ctx context.Context) error {
	pos, err := m.client.GetPosition(ctx, m.symbol)
	if err != nil {
		return fmt.Errorf("查询持仓失败: %w", err)
	}
	if pos == nil || pos.Size <= 0 {
		return fmt.Errorf("无持仓, 无法挂止盈单")
	}
	total := decimal.NewFromFloat(pos.Size)

	for i := range m.plan.TakeProfits {
		tp := &m.plan.TakeProfits[i]
		if tp.Filled || tp.OrderID != "" {
			continue
		}
		share, _ := total.Mul(decimal.NewFromFloat(tp.SizePercent)).
			Div(decimal.NewFromInt(100)).Float64()
		amount := m.client.FormatAmount(m.symbol, share)
		if amount <= 0 {
			m.log.Warnf("⚠️ %s 数量为 0, 跳过", tp.Level)
			continue
		}
		price := m.client.FormatPrice(m.symbol, tp.Price)
		order, err := m.client.CreateLimitOrder(ctx, m.symbol, m.exitSide(), amount, price, true)
		if err != nil {
			// 单腿失败不阻塞其余止盈腿
			m.log.Warnf("⚠️ %s 挂单失败: %v", tp.Level, err)
			continue
		}
		tp.OrderID = order.ID
		if err := m.store.UpdateTakeProfitFill(ctx, m.tradeID, tp.Level, order.ID, false); err != nil {
			m.log.Warnf("记录 %s 订单号失败: %v", tp.Level, err)
		}
		_ = m.store.AppendEvent(ctx, m.tradeID, store.EventOrderPlaced, map[string]any{
			"level":    tp.Level,
			"order_id": order.ID,
			"price":    price,
			"amount":   amount,
			"side":     string(m.exitSide()),
		})
		metrics.OrdersPlaced.WithLabelValues("take_profit").Inc()
		m.log.Infof("✓ %s 已挂单 @%.6f x%.6f", tp.Level, price, amount)
	}
	return nil
}

// UpdateStopLoss replaces the stop: cancel the old order (a missing one
// is fine, it may have just triggered), then place the new one. The
// unprotected window between the two calls is unavoidable with
// cancel-then-place; a failed placement is fatal to the caller.
func (m *OrderManager) UpdateStopLoss(ctx context.Context, newStop float64) error {
	if oldID := m.state.StopOrderID(); oldID != "" {
		if err := m.client.CancelOrder(ctx, m.symbol, oldID); err != nil {
			if exchange.IsOrderNotFound(err) {
				m.log.Debugf("旧止损单 %s 已不存在", oldID)
			} else {
				m.log.Warnf("⚠️ 撤销旧止损单失败, 继续挂新单: %v", err)
			}
		}
	}

	var size float64
	pos, err := m.client.GetPosition(ctx, m.symbol)
	switch {
	case err != nil:
		size = m.stateContracts()
		if size <= 0 {
			return fmt.Errorf("查询持仓失败: %w", err)
		}
		m.log.Warnf("⚠️ 查询持仓失败, 按本地状态挂止损: %v", err)
	case pos == nil || pos.Size <= 0:
		return fmt.Errorf("无持仓, 无法挂止损单")
	default:
		size = pos.Size
	}
	price := m.client.FormatPrice(m.symbol, newStop)
	order, err := m.client.CreateStopOrder(ctx, m.symbol, m.exitSide(), size, price)
	if err != nil {
		return fmt.Errorf("止损单挂单失败: %w", err)
	}
	m.state.SetStop(price, order.ID)
	if err := m.store.UpdateTradeFields(ctx, m.tradeID, map[string]any{
		"current_sl_price":    price,
		"current_sl_order_id": order.ID,
	}); err != nil {
		m.log.Warnf("持久化止损价失败: %v", err)
	}
	metrics.OrdersPlaced.WithLabelValues("stop").Inc()
	metrics.StopMoves.Inc()
	m.log.Infof("✓ 止损已移动至 %.6f (订单 %s)", price, order.ID)
	return nil
}

// stateContracts derives the position size in contracts from the locally
// tracked USD size and average entry, for when the venue query fails.
func (m *OrderManager) stateContracts() float64 {
	avg := m.state.AverageEntry()
	if avg <= 0 {
		return 0
	}
	return m.contractsFor(m.state.TotalSizeUSD(), avg)
}

// CascadeStopAfterTP moves the stop to its post-fill level for the TP at
// tpIndex (0-based) and records the move.
func (m *OrderManager) CascadeStopAfterTP(ctx context.Context, tpIndex int) error {
	oldStop := m.state.StopPrice()
	newStop := NextStop(m.plan, tpIndex, m.slOffsetPercent)
	if newStop <= 0 {
		return fmt.Errorf("无效的级联止损价 (tp=%d)", tpIndex)
	}
	if err := m.UpdateStopLoss(ctx, newStop); err != nil {
		return err
	}
	_ = m.store.AppendEvent(ctx, m.tradeID, store.EventSLMoved, map[string]any{
		"from":     oldStop,
		"to":       m.state.StopPrice(),
		"after_tp": m.plan.TakeProfits[tpIndex].Level,
	})
	return nil
}

// CancelAllOrders best-effort cancels every live order of the trade:
// unfilled entries, unfilled TPs, and the stop. Not-found errors are
// expected (the order may have filled in the meantime) and skipped.
func (m *OrderManager) CancelAllOrders(ctx context.Context) {
	cancel := func(kind, id string) {
		if id == "" {
			return
		}
		if err := m.client.CancelOrder(ctx, m.symbol, id); err != nil && !exchange.IsOrderNotFound(err) {
			m.log.Warnf("⚠️ 撤销%s %s 失败: %v", kind, id, err)
			return
		}
		_ = m.store.AppendEvent(ctx, m.tradeID, store.EventOrderCancelled, map[string]any{
			"kind":     kind,
			"order_id": id,
		})
	}
	for i := range m.plan.OrderEntries {
		if e := &m.plan.OrderEntries[i]; !e.Filled {
			cancel("入场单", e.OrderID)
		}
	}
	for i := range m.plan.TakeProfits {
		if tp := &m.plan.TakeProfits[i]; !tp.Filled {
			cancel("止盈单", tp.OrderID)
		}
	}
	cancel("止损单", m.state.StopOrderID())
}

// CloseEntirePosition cancels everything and market-closes whatever
// position remains.
func (m *OrderManager) CloseEntirePosition(ctx context.Context) error {
	m.CancelAllOrders(ctx)
	pos, err := m.client.GetPosition(ctx, m.symbol)
	if err != nil {
		return fmt.Errorf("查询持仓失败: %w", err)
	}
	if pos == nil || pos.Size <= 0 {
		m.log.Infof("无持仓, 无需平仓")
		return nil
	}
	if err := m.client.ClosePosition(ctx, m.symbol, 0); err != nil {
		return fmt.Errorf("市价平仓失败: %w", err)
	}
	m.log.Infof("✓ 已市价平仓 %s x%.6f", m.symbol, pos.Size)
	return nil
}

// onFirstFill runs once, when the first entry fills: place the initial
// protective stop from the plan, then the TP ladder.
func (m *OrderManager) onFirstFill(ctx context.Context) error {
	if err := m.UpdateStopLoss(ctx, m.plan.TradeSetup.StopLoss); err != nil {
		return fmt.Errorf("初始止损挂单失败: %w", err)
	}
	if err := m.PlaceTakeProfitOrders(ctx); err != nil {
		return fmt.Errorf("止盈单挂单失败: %w", err)
	}
	if err := m.store.UpdateTradeFields(ctx, m.tradeID, map[string]any{
		"status": string(store.StatusOpen),
	}); err != nil {
		m.log.Warnf("更新状态 OPEN 失败: %v", err)
	}
	return nil
}

// persistPositionFields mirrors the runtime average/size into the trade
// row so reconciliation and the HTTP layer see current numbers.
func (m *OrderManager) persistPositionFields(ctx context.Context) {
	if err := m.store.UpdateTradeFields(ctx, m.tradeID, map[string]any{
		"avg_entry":     m.state.AverageEntry(),
		"position_size": m.state.TotalSizeUSD(),
		"is_in_profit":  m.state.InProfit(),
	}); err != nil {
		m.log.Warnf("持久化持仓快照失败: %v", err)
	}
}

// TradeIDTag shortens a trade id for log prefixes.
func TradeIDTag(tradeID string) string {
	if i := strings.LastIndex(tradeID, "-"); i > 0 && len(tradeID)-i > 7 {
		return tradeID[:i+7]
	}
	return tradeID
}
