// Package exchangetest provides a scriptable in-memory exchange.Client
// for engine and service tests.
package exchangetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ladder/internal/exchange"
)

type FakeClient struct {
	mu sync.Mutex

	orders   map[string]*exchange.Order
	position *exchange.Position
	balance  exchange.Balance
	nextID   int

	Leverage   map[string]int
	MarginIso  map[string]bool
	Cancelled  []string
	ClosedAmts []float64

	// Fail maps an op name (create_limit, create_stop, cancel,
	// get_order, get_position, close) to an error returned once.
	Fail map[string]error
	// FailOn delays an op's injected Fail until that 1-based call
	// number; zero means the next call.
	FailOn map[string]int

	calls map[string]int
}

func New() *FakeClient {
	return &FakeClient{
		orders:    make(map[string]*exchange.Order),
		balance:   exchange.Balance{Asset: "USDT", Total: 10000, Available: 10000},
		Leverage:  make(map[string]int),
		MarginIso: make(map[string]bool),
		Fail:      make(map[string]error),
		FailOn:    make(map[string]int),
		calls:     make(map[string]int),
	}
}

var _ exchange.Client = (*FakeClient)(nil)

func (f *FakeClient) failFor(op string) error {
	f.calls[op]++
	err, ok := f.Fail[op]
	if !ok {
		return nil
	}
	if n := f.FailOn[op]; n > 0 && f.calls[op] != n {
		return nil
	}
	delete(f.Fail, op)
	delete(f.FailOn, op)
	return err
}

func (f *FakeClient) Name() string                         { return "fake" }
func (f *FakeClient) Initialize(ctx context.Context) error { return nil }

func (f *FakeClient) CanonicalSymbol(symbol string) string {
	if strings.Contains(symbol, "-") {
		return strings.ToUpper(symbol)
	}
	return strings.ToUpper(symbol) + "-USDT"
}

func (f *FakeClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Leverage[symbol] = leverage
	return nil
}

func (f *FakeClient) SetMarginMode(ctx context.Context, symbol string, isolated bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MarginIso[symbol] = isolated
	return nil
}

func (f *FakeClient) CreateLimitOrder(ctx context.Context, symbol string, side exchange.Side, amount, price float64, reduceOnly bool) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor("create_limit"); err != nil {
		return nil, err
	}
	return f.newOrder(symbol, side, amount, price), nil
}

func (f *FakeClient) CreateStopOrder(ctx context.Context, symbol string, side exchange.Side, amount, stopPrice float64) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor("create_stop"); err != nil {
		return nil, err
	}
	return f.newOrder(symbol, side, amount, stopPrice), nil
}

func (f *FakeClient) newOrder(symbol string, side exchange.Side, amount, price float64) *exchange.Order {
	f.nextID++
	o := &exchange.Order{
		ID:        fmt.Sprintf("%d", f.nextID),
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Status:    exchange.OrderStatusNew,
		CreatedAt: time.Now(),
	}
	f.orders[o.ID] = o
	return o
}

func (f *FakeClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor("cancel"); err != nil {
		return err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order does not exist: %s", orderID)
	}
	o.Status = exchange.OrderStatusCanceled
	f.Cancelled = append(f.Cancelled, orderID)
	return nil
}

func (f *FakeClient) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor("get_order"); err != nil {
		return nil, err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order does not exist: %s", orderID)
	}
	cp := *o
	return &cp, nil
}

func (f *FakeClient) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor("get_position"); err != nil {
		return nil, err
	}
	if f.position == nil {
		return nil, nil
	}
	cp := *f.position
	return &cp, nil
}

func (f *FakeClient) GetBalance(ctx context.Context) (exchange.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *FakeClient) ClosePosition(ctx context.Context, symbol string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor("close"); err != nil {
		return err
	}
	f.ClosedAmts = append(f.ClosedAmts, amount)
	if f.position == nil {
		return nil
	}
	if amount <= 0 || amount >= f.position.Size {
		f.position = nil
	} else {
		f.position.Size -= amount
	}
	return nil
}

func (f *FakeClient) FormatPrice(symbol string, value float64) float64 {
	return exchange.TruncateTo(value, exchange.DefaultPrecision.PriceDecimals)
}

func (f *FakeClient) FormatAmount(symbol string, value float64) float64 {
	return exchange.TruncateTo(value, exchange.DefaultPrecision.AmountDecimals)
}

// ---- test scripting ----

// FillOrder marks the order filled at its limit price.
func (f *FakeClient) FillOrder(orderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok {
		o.Status = exchange.OrderStatusFilled
		o.ExecutedQty = o.Amount
	}
}

// SetPosition overrides the live position snapshot; size 0 clears it.
func (f *FakeClient) SetPosition(symbol string, size, entryPrice float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size <= 0 {
		f.position = nil
		return
	}
	f.position = &exchange.Position{Symbol: symbol, Size: size, EntryPrice: entryPrice}
}

// Orders returns a copy of every order the client has seen.
func (f *FakeClient) Orders() []exchange.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, *o)
	}
	return out
}

// Order returns one order by id.
func (f *FakeClient) Order(orderID string) (exchange.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return exchange.Order{}, false
	}
	return *o, true
}
