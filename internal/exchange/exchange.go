package exchange

import (
	"context"
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Filled reports whether the order is terminally filled. Some venues report
// fully executed orders as "closed" rather than "FILLED".
func (s OrderStatus) Filled() bool {
	switch strings.ToUpper(string(s)) {
	case "FILLED", "CLOSED":
		return true
	}
	return false
}

type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          Side
	Price         float64
	Amount        float64
	ExecutedQty   float64
	Status        OrderStatus
	CreatedAt     time.Time
}

// Position is a live exchange position snapshot. Size is always positive;
// direction is carried by the trade, not the snapshot.
type Position struct {
	Symbol        string
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

type Balance struct {
	Asset     string
	Total     float64
	Available float64
}

// Client is the capability interface the execution core consumes. Every
// blocking operation takes a context; implementations impose their own
// per-call timeout and never retry — failures propagate to the caller.
type Client interface {
	Name() string

	// Initialize loads markets/contract metadata (precision, lot size).
	Initialize(ctx context.Context) error

	// CanonicalSymbol maps a plan symbol ("VET") to the venue's contract
	// identifier ("VET-USDT", "VETUSDT", ...).
	CanonicalSymbol(symbol string) string

	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SetMarginMode is tolerant of "already set" responses.
	SetMarginMode(ctx context.Context, symbol string, isolated bool) error

	CreateLimitOrder(ctx context.Context, symbol string, side Side, amount, price float64, reduceOnly bool) (*Order, error)
	CreateStopOrder(ctx context.Context, symbol string, side Side, amount, stopPrice float64) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)

	// GetPosition returns nil when the symbol is flat.
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetBalance(ctx context.Context) (Balance, error)

	// ClosePosition market-closes amount contracts, or the whole position
	// when amount <= 0.
	ClosePosition(ctx context.Context, symbol string, amount float64) error

	// FormatPrice / FormatAmount round toward zero to the contract's tick
	// and lot size.
	FormatPrice(symbol string, value float64) float64
	FormatAmount(symbol string, value float64) float64
}
