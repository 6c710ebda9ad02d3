package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder/internal/exchange/exchangetest"
	"ladder/internal/plan"
	"ladder/internal/position"
	"ladder/internal/store"
	"ladder/internal/store/memstore"
)

func newTestTrade(t *testing.T, p *plan.TradePlan) (*exchangetest.FakeClient, *memstore.MemStore, *OrderManager, *Monitor, *bool) {
	t.Helper()
	client := exchangetest.New()
	st := memstore.New()

	rec := store.TradeRecord{
		TradeID:   "BTC-LONG-abcdef123456",
		Symbol:    p.TradeSetup.Symbol,
		Direction: string(p.TradeSetup.Direction),
		Status:    store.StatusActive,
	}
	for _, e := range p.OrderEntries {
		rec.Entries = append(rec.Entries, store.EntryRecord{Label: e.Label, Price: e.Price, SizeUSD: e.SizeUSD})
	}
	for _, tp := range p.TakeProfits {
		rec.TakeProfits = append(rec.TakeProfits, store.TakeProfitRecord{Level: tp.Level, Price: tp.Price, SizePercent: tp.SizePercent})
	}
	_, err := st.CreateTrade(context.Background(), rec)
	require.NoError(t, err)

	state := position.NewState(p.TradeSetup.Symbol, p.TradeSetup.Direction,
		p.TradeSetup.StopLoss, len(p.OrderEntries))
	mgr := NewOrderManager(client, st, rec.TradeID, p, state, 0.1)

	flat := false
	mon := NewMonitor(mgr, 10*time.Millisecond, func(string) { flat = true })
	return client, st, mgr, mon, &flat
}

func TestInitializeTradePlacesEntries(t *testing.T) {
	ctx := context.Background()
	p := &plan.TradePlan{
		TradeSetup: plan.TradeSetup{
			Symbol: "BTC", Direction: plan.Long,
			MarginUSD: 600, EntryPrice: 100, StopLoss: 95, Leverage: "10x",
		},
		OrderEntries: []plan.OrderEntry{
			{Label: "Entry", SizeUSD: 300, Price: 100},
			{Label: "Rebuy1", SizeUSD: 300, Price: 96},
		},
		TakeProfits: []plan.TakeProfit{
			{Level: "TP1", Price: 105, SizePercent: 50},
			{Level: "TP2", Price: 110, SizePercent: 50},
		},
	}
	client, _, mgr, _, _ := newTestTrade(t, p)

	require.NoError(t, mgr.InitializeTrade(ctx))

	assert.Equal(t, 10, client.Leverage["BTC-USDT"])
	assert.True(t, client.MarginIso["BTC-USDT"])
	require.Len(t, client.Orders(), 2)
	assert.NotEmpty(t, p.OrderEntries[0].OrderID)
	assert.NotEmpty(t, p.OrderEntries[1].OrderID)

	// 300 USD at 100 → 3 contracts, at 96 → 3.125 contracts
	o0, _ := client.Order(p.OrderEntries[0].OrderID)
	assert.InDelta(t, 3.0, o0.Amount, 1e-9)
	o1, _ := client.Order(p.OrderEntries[1].OrderID)
	assert.InDelta(t, 3.125, o1.Amount, 1e-9)
}

func TestMonitorFullLifecycle(t *testing.T) {
	ctx := context.Background()
	p := &plan.TradePlan{
		TradeSetup: plan.TradeSetup{
			Symbol: "BTC", Direction: plan.Long,
			MarginUSD: 600, EntryPrice: 100, StopLoss: 95, Leverage: "5x",
		},
		OrderEntries: []plan.OrderEntry{
			{Label: "Entry", SizeUSD: 300, Price: 100},
			{Label: "Rebuy1", SizeUSD: 300, Price: 96},
		},
		TakeProfits: []plan.TakeProfit{
			{Level: "TP1", Price: 105, SizePercent: 30},
			{Level: "TP2", Price: 110, SizePercent: 70},
		},
	}
	client, st, mgr, mon, flat := newTestTrade(t, p)
	require.NoError(t, mgr.InitializeTrade(ctx))

	// nothing filled yet: a tick is a no-op
	mon.tick(ctx)
	assert.False(t, mgr.State().EverFilled())

	// first entry fills → stop + TP ladder appear, trade goes OPEN
	client.FillOrder(p.OrderEntries[0].OrderID)
	client.SetPosition("BTC-USDT", 3.0, 100)
	mon.tick(ctx)

	assert.True(t, mgr.State().EverFilled())
	assert.InDelta(t, 100, mgr.State().AverageEntry(), 1e-9)
	require.NotEmpty(t, mgr.State().StopOrderID())
	assert.InDelta(t, 95, mgr.State().StopPrice(), 1e-9)
	require.NotEmpty(t, p.TakeProfits[0].OrderID)
	require.NotEmpty(t, p.TakeProfits[1].OrderID)

	rec, ok, err := st.GetTrade(ctx, "BTC-LONG-abcdef123456")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusOpen, rec.Status)
	assert.True(t, rec.Entries[0].Filled)
	assert.Equal(t, mgr.State().StopOrderID(), rec.CurrentSLOrderID)

	// TP sizes are percentages of the live position
	tp1, _ := client.Order(p.TakeProfits[0].OrderID)
	assert.InDelta(t, 0.9, tp1.Amount, 1e-9) // 30% of 3.0
	tp2, _ := client.Order(p.TakeProfits[1].OrderID)
	assert.InDelta(t, 2.1, tp2.Amount, 1e-9)

	// an already observed fill stays idempotent
	stopBefore := mgr.State().StopOrderID()
	mon.tick(ctx)
	assert.Equal(t, stopBefore, mgr.State().StopOrderID())
	assert.Equal(t, []string{"Entry"}, mgr.State().FilledEntries())

	// second entry fills → weighted average moves
	client.FillOrder(p.OrderEntries[1].OrderID)
	client.SetPosition("BTC-USDT", 6.125, 98)
	mon.tick(ctx)
	// (100*300 + 96*300) / 600 = 98
	assert.InDelta(t, 98, mgr.State().AverageEntry(), 1e-9)

	// stop re-issued to cover the whole position
	stopAfterRebuy := mgr.State().StopOrderID()
	assert.NotEqual(t, stopBefore, stopAfterRebuy)
	stopOrder, _ := client.Order(stopAfterRebuy)
	assert.InDelta(t, 6.125, stopOrder.Amount, 1e-9)
	assert.InDelta(t, 95, mgr.State().StopPrice(), 1e-9)

	// TP1 fills → stop cascades to entry*1.001
	oldStop := mgr.State().StopOrderID()
	client.FillOrder(p.TakeProfits[0].OrderID)
	client.SetPosition("BTC-USDT", 5.2, 98)
	mon.tick(ctx)

	assert.True(t, mgr.State().InProfit())
	assert.Equal(t, 1, mgr.State().HighestTPReached())
	assert.Contains(t, client.Cancelled, oldStop)
	assert.InDelta(t, 100.1, mgr.State().StopPrice(), 1e-9)

	// position disappears → monitor hands off without closing the trade
	client.SetPosition("BTC-USDT", 0, 0)
	mon.tick(ctx)
	assert.True(t, *flat)

	rec, _, _ = st.GetTrade(ctx, "BTC-LONG-abcdef123456")
	assert.NotEqual(t, store.StatusClosed, rec.Status)

	events, err := st.ListEvents(ctx, "BTC-LONG-abcdef123456", 100)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, store.EventOrderPlaced)
	assert.Contains(t, types, store.EventOrderFilled)
	assert.Contains(t, types, store.EventTPHit)
	assert.Contains(t, types, store.EventSLMoved)
}

func TestMonitorToleratesTransientErrors(t *testing.T) {
	ctx := context.Background()
	p := &plan.TradePlan{
		TradeSetup: plan.TradeSetup{
			Symbol: "BTC", Direction: plan.Long,
			MarginUSD: 300, EntryPrice: 100, StopLoss: 95, Leverage: "5x",
		},
		OrderEntries: []plan.OrderEntry{{Label: "Entry", SizeUSD: 300, Price: 100}},
		TakeProfits:  []plan.TakeProfit{{Level: "TP1", Price: 105, SizePercent: 100}},
	}
	client, _, mgr, mon, flat := newTestTrade(t, p)
	require.NoError(t, mgr.InitializeTrade(ctx))

	client.FillOrder(p.OrderEntries[0].OrderID)
	client.SetPosition("BTC-USDT", 3.0, 100)

	// a failing order query skips the entry this tick, nothing breaks
	client.Fail["get_order"] = context.DeadlineExceeded
	mon.tick(ctx)
	assert.False(t, mgr.State().EverFilled())

	// next tick succeeds
	mon.tick(ctx)
	assert.True(t, mgr.State().EverFilled())
	assert.False(t, *flat)
}

func TestCloseEntirePositionCancelsAndCloses(t *testing.T) {
	ctx := context.Background()
	p := &plan.TradePlan{
		TradeSetup: plan.TradeSetup{
			Symbol: "BTC", Direction: plan.Long,
			MarginUSD: 300, EntryPrice: 100, StopLoss: 95, Leverage: "5x",
		},
		OrderEntries: []plan.OrderEntry{{Label: "Entry", SizeUSD: 300, Price: 100}},
		TakeProfits:  []plan.TakeProfit{{Level: "TP1", Price: 105, SizePercent: 100}},
	}
	client, _, mgr, mon, _ := newTestTrade(t, p)
	require.NoError(t, mgr.InitializeTrade(ctx))

	client.FillOrder(p.OrderEntries[0].OrderID)
	client.SetPosition("BTC-USDT", 3.0, 100)
	mon.tick(ctx)

	require.NoError(t, mgr.CloseEntirePosition(ctx))
	assert.Equal(t, []float64{0}, client.ClosedAmts)

	pos, err := client.GetPosition(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Nil(t, pos)
}
