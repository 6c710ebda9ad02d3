package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ladder/internal/plan"
)

func ladderPlan(direction plan.Direction) *plan.TradePlan {
	p := &plan.TradePlan{
		TradeSetup: plan.TradeSetup{
			Symbol:     "BTC",
			Direction:  direction,
			MarginUSD:  300,
			EntryPrice: 100,
			StopLoss:   95,
			Leverage:   "10x",
		},
		OrderEntries: []plan.OrderEntry{
			{Label: "Entry", SizeUSD: 300, Price: 100},
		},
		TakeProfits: []plan.TakeProfit{
			{Level: "TP1", Price: 105, SizePercent: 30},
			{Level: "TP2", Price: 110, SizePercent: 30},
			{Level: "TP3", Price: 115, SizePercent: 40},
		},
	}
	if direction == plan.Short {
		p.TradeSetup.StopLoss = 105
		p.TakeProfits = []plan.TakeProfit{
			{Level: "TP1", Price: 95, SizePercent: 30},
			{Level: "TP2", Price: 90, SizePercent: 30},
			{Level: "TP3", Price: 85, SizePercent: 40},
		}
	}
	return p
}

func TestNextStopLongCascade(t *testing.T) {
	p := ladderPlan(plan.Long)

	// TP1 fills: stop moves just above entry
	assert.InDelta(t, 100.1, NextStop(p, 0, 0.1), 1e-9)
	// TP2 fills: stop moves just above TP1
	assert.InDelta(t, 105.105, NextStop(p, 1, 0.1), 1e-9)
	// TP3 fills: stop moves just above TP2
	assert.InDelta(t, 110.11, NextStop(p, 2, 0.1), 1e-9)
}

func TestNextStopShortCascade(t *testing.T) {
	p := ladderPlan(plan.Short)

	// SHORT stops park below the base price
	assert.InDelta(t, 100.0/1.001, NextStop(p, 0, 0.1), 1e-9)
	assert.InDelta(t, 95.0/1.001, NextStop(p, 1, 0.1), 1e-9)
	assert.InDelta(t, 90.0/1.001, NextStop(p, 2, 0.1), 1e-9)
}

func TestNextStopDefaultsOffset(t *testing.T) {
	p := ladderPlan(plan.Long)
	assert.InDelta(t, 100.1, NextStop(p, 0, 0), 1e-9)
}

func TestNextStopOutOfRange(t *testing.T) {
	p := ladderPlan(plan.Long)
	assert.Zero(t, NextStop(p, -1, 0.1))
	assert.Zero(t, NextStop(p, 3, 0.1))
	assert.Zero(t, NextStop(nil, 0, 0.1))
}
