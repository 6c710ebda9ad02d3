package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ladder/internal/exchange"
	"ladder/internal/logger"

	"github.com/adshao/go-binance/v2/futures"
)

// Client implements exchange.Client against Binance USDT-margined
// perpetual futures.
type Client struct {
	api         *futures.Client
	testnet     bool
	callTimeout time.Duration

	precision map[string]exchange.ContractPrecision
}

func New(apiKey, apiSecret string, testnet bool, callTimeout time.Duration) *Client {
	// 必须在创建客户端之前设置测试网开关
	futures.UseTestnet = testnet
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Client{
		api:         futures.NewClient(apiKey, apiSecret),
		testnet:     testnet,
		callTimeout: callTimeout,
		precision:   make(map[string]exchange.ContractPrecision),
	}
}

func (c *Client) Name() string { return "binance" }

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// Initialize syncs server time and caches per-contract precision from
// exchange info.
func (c *Client) Initialize(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	c.api.NewSetServerTimeService().Do(ctx)
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("binance: 获取合约信息失败: %w", err)
	}
	for _, s := range info.Symbols {
		c.precision[s.Symbol] = exchange.ContractPrecision{
			PriceDecimals:  int32(s.PricePrecision),
			AmountDecimals: int32(s.QuantityPrecision),
		}
	}
	logger.Infof("[binance] 已加载 %d 个合约精度信息 (testnet=%v)", len(c.precision), c.testnet)
	return nil
}

func (c *Client) CanonicalSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(symbol, "USDT") {
		return symbol
	}
	return symbol + "USDT"
}

func (c *Client) contractPrecision(symbol string) exchange.ContractPrecision {
	if p, ok := c.precision[symbol]; ok {
		return p
	}
	return exchange.DefaultPrecision
}

func (c *Client) FormatPrice(symbol string, value float64) float64 {
	return exchange.TruncateTo(value, c.contractPrecision(symbol).PriceDecimals)
}

func (c *Client) FormatAmount(symbol string, value float64) float64 {
	return exchange.TruncateTo(value, c.contractPrecision(symbol).AmountDecimals)
}

func (c *Client) priceStr(symbol string, value float64) string {
	p := c.contractPrecision(symbol)
	return strconv.FormatFloat(c.FormatPrice(symbol, value), 'f', int(p.PriceDecimals), 64)
}

func (c *Client) amountStr(symbol string, value float64) string {
	p := c.contractPrecision(symbol)
	return strconv.FormatFloat(c.FormatAmount(symbol, value), 'f', int(p.AmountDecimals), 64)
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.api.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("binance: 设置杠杆失败 %s %dx: %w", symbol, leverage, err)
	}
	return nil
}

func (c *Client) SetMarginMode(ctx context.Context, symbol string, isolated bool) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	mode := futures.MarginTypeIsolated
	if !isolated {
		mode = futures.MarginTypeCrossed
	}
	err := c.api.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(mode).
		Do(ctx)
	if err != nil {
		// -4046: no need to change margin type
		if strings.Contains(err.Error(), "-4046") || strings.Contains(strings.ToLower(err.Error()), "no need to change") {
			return nil
		}
		return fmt.Errorf("binance: 设置保证金模式失败 %s: %w", symbol, err)
	}
	return nil
}

func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side exchange.Side, amount, price float64, reduceOnly bool) (*exchange.Order, error) {
	if price <= 0 {
		return nil, fmt.Errorf("binance: 无效的下单价格: %.8f", price)
	}
	amountStr := c.amountStr(symbol, amount)
	if q, _ := strconv.ParseFloat(amountStr, 64); q <= 0 {
		return nil, fmt.Errorf("binance: 下单数量精度截断后为 0 (原始=%.8f)", amount)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	svc := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(amountStr).
		Price(c.priceStr(symbol, price))
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	return &exchange.Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Amount:        amount,
		Status:        exchange.OrderStatus(resp.Status),
		CreatedAt:     time.Now(),
	}, nil
}

func (c *Client) CreateStopOrder(ctx context.Context, symbol string, side exchange.Side, amount, stopPrice float64) (*exchange.Order, error) {
	if stopPrice <= 0 {
		return nil, fmt.Errorf("binance: 无效的触发价格: %.8f", stopPrice)
	}
	amountStr := c.amountStr(symbol, amount)
	if q, _ := strconv.ParseFloat(amountStr, 64); q <= 0 {
		return nil, fmt.Errorf("binance: 止损数量精度截断后为 0 (原始=%.8f)", amount)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeStopMarket).
		StopPrice(c.priceStr(symbol, stopPrice)).
		Quantity(amountStr).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return &exchange.Order{
		ID:        strconv.FormatInt(resp.OrderID, 10),
		Symbol:    symbol,
		Side:      side,
		Price:     stopPrice,
		Amount:    amount,
		Status:    exchange.OrderStatus(resp.Status),
		CreatedAt: time.Now(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: 非法订单号 %q: %w", orderID, err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err = c.api.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	return err
}

func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: 非法订单号 %q: %w", orderID, err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.api.NewGetOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	price, _ := strconv.ParseFloat(resp.Price, 64)
	qty, _ := strconv.ParseFloat(resp.OrigQuantity, 64)
	executed, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	return &exchange.Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          exchange.Side(resp.Side),
		Price:         price,
		Amount:        qty,
		ExecutedQty:   executed,
		Status:        exchange.OrderStatus(resp.Status),
	}, nil
}

func (c *Client) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	risks, err := c.api.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		if amt < 0 {
			amt = -amt
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		lev, _ := strconv.Atoi(r.Leverage)
		return &exchange.Position{
			Symbol:        symbol,
			Size:          amt,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: upnl,
			Leverage:      lev,
		}, nil
	}
	return nil, nil
}

func (c *Client) GetBalance(ctx context.Context) (exchange.Balance, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	balances, err := c.api.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, err
	}
	for _, b := range balances {
		if b.Asset != "USDT" {
			continue
		}
		total, _ := strconv.ParseFloat(b.Balance, 64)
		avail, _ := strconv.ParseFloat(b.AvailableBalance, 64)
		return exchange.Balance{Asset: b.Asset, Total: total, Available: avail}, nil
	}
	return exchange.Balance{Asset: "USDT"}, nil
}

// ClosePosition market-closes with a reduce-only order opposite to the
// current position direction.
func (c *Client) ClosePosition(ctx context.Context, symbol string, amount float64) error {
	pos, err := c.positionSigned(ctx, symbol)
	if err != nil {
		return err
	}
	if pos == 0 {
		return nil
	}
	side := futures.SideTypeSell
	size := pos
	if pos < 0 {
		side = futures.SideTypeBuy
		size = -pos
	}
	if amount > 0 && amount < size {
		size = amount
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err = c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(c.amountStr(symbol, size)).
		ReduceOnly(true).
		Do(ctx)
	return err
}

func (c *Client) positionSigned(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	risks, err := c.api.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt != 0 {
			return amt, nil
		}
	}
	return 0, nil
}

var _ exchange.Client = (*Client)(nil)
