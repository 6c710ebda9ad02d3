package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLongPlan() *TradePlan {
	return &TradePlan{
		TradeSetup: TradeSetup{
			Symbol:         "SOL",
			Direction:      Long,
			MarginUSD:      300,
			EntryPrice:     100,
			StopLoss:       95,
			Leverage:       "10x",
			MaxLossPercent: 35,
		},
		OrderEntries: []OrderEntry{
			{Label: "Entry", SizeUSD: 100, Price: 100},
			{Label: "Rebuy1", SizeUSD: 100, Price: 97},
			{Label: "Rebuy2", SizeUSD: 100, Price: 96},
		},
		TakeProfits: []TakeProfit{
			{Level: "TP1", Price: 105, SizePercent: 30},
			{Level: "TP2", Price: 110, SizePercent: 30},
			{Level: "TP3", Price: 115, SizePercent: 40},
		},
	}
}

func TestValidateAcceptsGoodPlan(t *testing.T) {
	require.NoError(t, validLongPlan().Validate())
}

func TestValidateRejectsBadPlans(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*TradePlan)
	}{
		{"missing symbol", func(p *TradePlan) { p.TradeSetup.Symbol = "" }},
		{"bad direction", func(p *TradePlan) { p.TradeSetup.Direction = "SIDEWAYS" }},
		{"zero margin", func(p *TradePlan) { p.TradeSetup.MarginUSD = 0 }},
		{"long stop above entry", func(p *TradePlan) { p.TradeSetup.StopLoss = 101 }},
		{"long tp below entry", func(p *TradePlan) { p.TakeProfits[0].Price = 99 }},
		{"no entries", func(p *TradePlan) { p.OrderEntries = nil }},
		{"no take profits", func(p *TradePlan) { p.TakeProfits = nil }},
		{"tp percent over 100", func(p *TradePlan) { p.TakeProfits[2].SizePercent = 60 }},
		{"entries vs margin mismatch", func(p *TradePlan) { p.OrderEntries[0].SizeUSD = 150 }},
		{"max loss out of range", func(p *TradePlan) { p.TradeSetup.MaxLossPercent = 120 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validLongPlan()
			tc.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPlanInvalid)
		})
	}
}

func TestValidateShortOrdering(t *testing.T) {
	p := validLongPlan()
	p.TradeSetup.Direction = Short
	p.TradeSetup.StopLoss = 105
	p.TakeProfits = []TakeProfit{
		{Level: "TP1", Price: 95, SizePercent: 50},
		{Level: "TP2", Price: 90, SizePercent: 50},
	}
	require.NoError(t, p.Validate())

	p.TakeProfits[0].Price = 101
	assert.ErrorIs(t, p.Validate(), ErrPlanInvalid)

	p.TakeProfits[0].Price = 95
	p.TradeSetup.StopLoss = 99
	assert.ErrorIs(t, p.Validate(), ErrPlanInvalid)
}

func TestValidateToleratesMarginRounding(t *testing.T) {
	p := validLongPlan()
	p.OrderEntries[2].SizeUSD = 100.9 // within 1 USD of declared margin
	require.NoError(t, p.Validate())
}

func TestLeverageValue(t *testing.T) {
	assert.Equal(t, 10, TradeSetup{Leverage: "10x"}.LeverageValue())
	assert.Equal(t, 25, TradeSetup{Leverage: "25X"}.LeverageValue())
	assert.Equal(t, 5, TradeSetup{Leverage: " 5 "}.LeverageValue())
	assert.Equal(t, 0, TradeSetup{Leverage: "abc"}.LeverageValue())
	assert.Equal(t, 0, TradeSetup{Leverage: ""}.LeverageValue())
}
