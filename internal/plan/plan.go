package plan

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrPlanInvalid wraps every validation failure so callers can reject a
// malformed plan before any exchange call is made.
var ErrPlanInvalid = errors.New("invalid trade plan")

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// TradeSetup is the immutable head of a trade plan.
type TradeSetup struct {
	Symbol         string    `json:"symbol"`
	Direction      Direction `json:"direction"`
	DateTime       string    `json:"dateTime"`
	MarginUSD      float64   `json:"marginUSD"`
	EntryPrice     float64   `json:"entryPrice"`
	AveragePrice   float64   `json:"averagePrice"`
	StopLoss       float64   `json:"stopLoss"`
	Leverage       string    `json:"leverage"`
	MaxLossPercent float64   `json:"maxLossPercent"`
}

// LeverageValue parses "10x" / "10X" / "10" into an int.
func (s TradeSetup) LeverageValue() int {
	raw := strings.TrimSpace(s.Leverage)
	raw = strings.TrimSuffix(strings.TrimSuffix(raw, "x"), "X")
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

// OrderEntry is one staged entry (initial entry or rebuy). Filled and
// OrderID are runtime state, not part of the declared intent.
type OrderEntry struct {
	Label   string  `json:"label"`
	SizeUSD float64 `json:"sizeUSD"`
	Price   float64 `json:"price"`
	Average float64 `json:"average"`

	Filled  bool   `json:"-"`
	OrderID string `json:"-"`
}

// TakeProfit is one rung of the TP ladder.
type TakeProfit struct {
	Level       string  `json:"level"`
	Price       float64 `json:"price"`
	SizePercent float64 `json:"sizePercent"`

	Filled  bool   `json:"-"`
	OrderID string `json:"-"`
}

// TradePlan is the complete declared intent for one symbol/direction.
type TradePlan struct {
	TradeSetup   TradeSetup   `json:"tradeSetup"`
	OrderEntries []OrderEntry `json:"orderEntries"`
	TakeProfits  []TakeProfit `json:"takeProfits"`
	Notes        string       `json:"notes"`
}

func invalidf(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrPlanInvalid, fmt.Sprintf(format, v...))
}

// Validate checks the whole plan atomically. A plan that fails here never
// reaches the exchange.
func (p *TradePlan) Validate() error {
	if p == nil {
		return invalidf("plan 为空")
	}
	setup := p.TradeSetup
	if strings.TrimSpace(setup.Symbol) == "" {
		return invalidf("symbol 必填")
	}
	if setup.Direction != Long && setup.Direction != Short {
		return invalidf("direction 必须为 LONG 或 SHORT")
	}
	if setup.MarginUSD <= 0 {
		return invalidf("marginUSD 必须大于 0")
	}
	if setup.EntryPrice <= 0 {
		return invalidf("entryPrice 必须大于 0")
	}
	if setup.StopLoss <= 0 {
		return invalidf("stopLoss 必须大于 0")
	}
	if setup.MaxLossPercent < 0 || setup.MaxLossPercent > 100 {
		return invalidf("maxLossPercent 必须在 [0,100]")
	}
	if len(p.OrderEntries) == 0 {
		return invalidf("至少需要一个入场单")
	}
	if len(p.TakeProfits) == 0 {
		return invalidf("至少需要一个止盈档位")
	}

	switch setup.Direction {
	case Long:
		if setup.StopLoss >= setup.EntryPrice {
			return invalidf("LONG 止损必须低于入场价")
		}
		for _, tp := range p.TakeProfits {
			if tp.Price <= setup.EntryPrice {
				return invalidf("LONG %s 价格必须高于入场价", tp.Level)
			}
		}
	case Short:
		if setup.StopLoss <= setup.EntryPrice {
			return invalidf("SHORT 止损必须高于入场价")
		}
		for _, tp := range p.TakeProfits {
			if tp.Price >= setup.EntryPrice {
				return invalidf("SHORT %s 价格必须低于入场价", tp.Level)
			}
		}
	}

	totalPercent := 0.0
	for _, tp := range p.TakeProfits {
		if tp.Price <= 0 {
			return invalidf("%s 价格必须大于 0", tp.Level)
		}
		if tp.SizePercent < 0 || tp.SizePercent > 100 {
			return invalidf("%s sizePercent 必须在 [0,100]", tp.Level)
		}
		totalPercent += tp.SizePercent
	}
	if totalPercent > 100 {
		return invalidf("止盈比例合计超过 100%%: %.2f%%", totalPercent)
	}

	totalMargin := 0.0
	for _, entry := range p.OrderEntries {
		if entry.SizeUSD <= 0 {
			return invalidf("%s sizeUSD 必须大于 0", entry.Label)
		}
		if entry.Price <= 0 {
			return invalidf("%s price 必须大于 0", entry.Label)
		}
		totalMargin += entry.SizeUSD
	}
	// Allow a 1 USD rounding difference between the entries and the
	// declared margin.
	if math.Abs(totalMargin-setup.MarginUSD) > 1 {
		return invalidf("入场单合计 %.2f 与 marginUSD %.2f 不符", totalMargin, setup.MarginUSD)
	}
	return nil
}
