package engine

import (
	"github.com/shopspring/decimal"

	"ladder/internal/plan"
)

// DefaultSLOffsetPercent is the gap kept between the new stop and its
// base price when the stop cascades after a take-profit fill. 0.1%
// leaves room for fees so a stop-out at the moved level is still a
// net-positive exit.
const DefaultSLOffsetPercent = 0.1

// NextStop returns the stop price after the take-profit at tpIndex
// (0-based) fills. The base is the plan entry price for TP1 and the
// previous TP's price for every later level:
//
//	LONG:  base * (1 + offset/100)
//	SHORT: base / (1 + offset/100)
//
// so the stop always locks the level below the one just reached.
func NextStop(p *plan.TradePlan, tpIndex int, offsetPercent float64) float64 {
	if p == nil || tpIndex < 0 || tpIndex >= len(p.TakeProfits) {
		return 0
	}
	base := p.TradeSetup.EntryPrice
	if tpIndex > 0 {
		base = p.TakeProfits[tpIndex-1].Price
	}
	if offsetPercent <= 0 {
		offsetPercent = DefaultSLOffsetPercent
	}
	factor := decimal.NewFromInt(1).Add(
		decimal.NewFromFloat(offsetPercent).Div(decimal.NewFromInt(100)))
	b := decimal.NewFromFloat(base)

	var next decimal.Decimal
	if p.TradeSetup.Direction == plan.Short {
		next = b.Div(factor)
	} else {
		next = b.Mul(factor)
	}
	out, _ := next.Float64()
	return out
}
