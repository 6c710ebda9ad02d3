package exchange

import "github.com/shopspring/decimal"

// ContractPrecision caches the tick/lot decimals for one contract.
type ContractPrecision struct {
	PriceDecimals  int32
	AmountDecimals int32
}

// DefaultPrecision is the fallback when contract metadata could not be
// fetched during Initialize.
var DefaultPrecision = ContractPrecision{PriceDecimals: 2, AmountDecimals: 3}

// TruncateTo rounds value toward zero at the given number of decimals.
// float64 arithmetic is never used for the rounding itself.
func TruncateTo(value float64, decimals int32) float64 {
	d := decimal.NewFromFloat(value).Truncate(decimals)
	f, _ := d.Float64()
	return f
}
