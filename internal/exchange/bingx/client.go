package bingx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"ladder/internal/exchange"
	"ladder/internal/logger"

	"github.com/tidwall/gjson"
)

const (
	productionBaseURL = "https://open-api.bingx.com"
	demoBaseURL       = "https://open-api-vst.bingx.com"
)

// Client implements exchange.Client against BingX USDT-M perpetual swaps
// via the signed REST API.
type Client struct {
	apiKey      string
	apiSecret   string
	baseURL     string
	httpClient  *http.Client
	callTimeout time.Duration

	precision map[string]exchange.ContractPrecision
}

func New(apiKey, apiSecret string, testnet bool, callTimeout time.Duration) *Client {
	baseURL := productionBaseURL
	if testnet {
		baseURL = demoBaseURL
	}
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Client{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: callTimeout},
		callTimeout: callTimeout,
		precision:   make(map[string]exchange.ContractPrecision),
	}
}

func (c *Client) Name() string { return "bingx" }

// APIError captures the code/msg envelope BingX wraps every response in.
type APIError struct {
	HTTPStatus int
	Code       int64
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bingx API error %d (code=%d): %s", e.HTTPStatus, e.Code, e.Message)
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedRequest performs one authenticated call and returns the `data`
// node of the response envelope.
func (c *Client) signedRequest(ctx context.Context, method, path string, params url.Values) (gjson.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params.Get(k))
	}
	query := strings.Join(pairs, "&")
	full := c.baseURL + path + "?" + query + "&signature=" + c.sign(query)

	req, err := http.NewRequestWithContext(ctx, method, full, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("X-BX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}

	root := gjson.ParseBytes(body)
	code := root.Get("code").Int()
	if resp.StatusCode != http.StatusOK || code != 0 {
		return gjson.Result{}, &APIError{
			HTTPStatus: resp.StatusCode,
			Code:       code,
			Message:    root.Get("msg").String(),
		}
	}
	return root.Get("data"), nil
}

// Initialize loads the contract table for precision metadata.
func (c *Client) Initialize(ctx context.Context) error {
	data, err := c.signedRequest(ctx, http.MethodGet, "/openApi/swap/v2/quote/contracts", nil)
	if err != nil {
		return fmt.Errorf("bingx: 加载合约列表失败: %w", err)
	}
	count := 0
	data.ForEach(func(_, contract gjson.Result) bool {
		sym := contract.Get("symbol").String()
		if sym == "" {
			return true
		}
		c.precision[sym] = exchange.ContractPrecision{
			PriceDecimals:  int32(contract.Get("pricePrecision").Int()),
			AmountDecimals: int32(contract.Get("quantityPrecision").Int()),
		}
		count++
		return true
	})
	logger.Infof("[bingx] 已加载 %d 个合约精度信息", count)
	return nil
}

func (c *Client) CanonicalSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, "-") {
		return symbol
	}
	symbol = strings.TrimSuffix(symbol, "USDT")
	return symbol + "-USDT"
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

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", "BOTH")
	params.Set("leverage", strconv.Itoa(leverage))
	if _, err := c.signedRequest(ctx, http.MethodPost, "/openApi/swap/v2/trade/leverage", params); err != nil {
		return fmt.Errorf("bingx: 设置杠杆失败 %s %dx: %w", symbol, leverage, err)
	}
	return nil
}

func (c *Client) SetMarginMode(ctx context.Context, symbol string, isolated bool) error {
	mode := "ISOLATED"
	if !isolated {
		mode = "CROSSED"
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", mode)
	if _, err := c.signedRequest(ctx, http.MethodPost, "/openApi/swap/v2/trade/marginType", params); err != nil {
		msg := strings.ToLower(err.Error())
		// 已经是目标模式时部分账户会返回错误，视为成功
		if strings.Contains(msg, "already") || strings.Contains(msg, "same") || strings.Contains(msg, "no need") {
			return nil
		}
		return fmt.Errorf("bingx: 设置保证金模式失败 %s: %w", symbol, err)
	}
	return nil
}

func (c *Client) placeOrder(ctx context.Context, params url.Values) (*exchange.Order, error) {
	data, err := c.signedRequest(ctx, http.MethodPost, "/openApi/swap/v2/trade/order", params)
	if err != nil {
		return nil, err
	}
	order := data.Get("order")
	if !order.Exists() {
		order = data
	}
	return &exchange.Order{
		ID:        order.Get("orderId").String(),
		Symbol:    params.Get("symbol"),
		Side:      exchange.Side(params.Get("side")),
		Status:    exchange.OrderStatusNew,
		CreatedAt: time.Now(),
	}, nil
}

func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side exchange.Side, amount, price float64, reduceOnly bool) (*exchange.Order, error) {
	if price <= 0 || amount <= 0 {
		return nil, fmt.Errorf("bingx: 无效的下单参数 price=%.8f amount=%.8f", price, amount)
	}
	p := c.contractPrecision(symbol)
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("positionSide", "BOTH")
	params.Set("type", "LIMIT")
	params.Set("price", strconv.FormatFloat(c.FormatPrice(symbol, price), 'f', int(p.PriceDecimals), 64))
	params.Set("quantity", strconv.FormatFloat(c.FormatAmount(symbol, amount), 'f', int(p.AmountDecimals), 64))
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}
	order, err := c.placeOrder(ctx, params)
	if err != nil {
		return nil, err
	}
	order.Price = price
	order.Amount = amount
	return order, nil
}

func (c *Client) CreateStopOrder(ctx context.Context, symbol string, side exchange.Side, amount, stopPrice float64) (*exchange.Order, error) {
	if stopPrice <= 0 || amount <= 0 {
		return nil, fmt.Errorf("bingx: 无效的止损参数 stop=%.8f amount=%.8f", stopPrice, amount)
	}
	p := c.contractPrecision(symbol)
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("positionSide", "BOTH")
	params.Set("type", "STOP_MARKET")
	params.Set("stopPrice", strconv.FormatFloat(c.FormatPrice(symbol, stopPrice), 'f', int(p.PriceDecimals), 64))
	params.Set("quantity", strconv.FormatFloat(c.FormatAmount(symbol, amount), 'f', int(p.AmountDecimals), 64))
	params.Set("reduceOnly", "true")
	order, err := c.placeOrder(ctx, params)
	if err != nil {
		return nil, err
	}
	order.Price = stopPrice
	order.Amount = amount
	return order, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.signedRequest(ctx, http.MethodDelete, "/openApi/swap/v2/trade/order", params)
	return err
}

func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	data, err := c.signedRequest(ctx, http.MethodGet, "/openApi/swap/v2/trade/order", params)
	if err != nil {
		return nil, err
	}
	order := data.Get("order")
	if !order.Exists() {
		order = data
	}
	return &exchange.Order{
		ID:          order.Get("orderId").String(),
		Symbol:      symbol,
		Side:        exchange.Side(order.Get("side").String()),
		Price:       order.Get("price").Float(),
		Amount:      order.Get("origQty").Float(),
		ExecutedQty: order.Get("executedQty").Float(),
		Status:      exchange.OrderStatus(order.Get("status").String()),
	}, nil
}

func (c *Client) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := c.signedRequest(ctx, http.MethodGet, "/openApi/swap/v2/user/positions", params)
	if err != nil {
		return nil, err
	}
	var pos *exchange.Position
	data.ForEach(func(_, p gjson.Result) bool {
		size := p.Get("positionAmt").Float()
		if size == 0 {
			return true
		}
		if size < 0 {
			size = -size
		}
		pos = &exchange.Position{
			Symbol:        symbol,
			Size:          size,
			EntryPrice:    p.Get("avgPrice").Float(),
			MarkPrice:     p.Get("markPrice").Float(),
			UnrealizedPnL: p.Get("unrealizedProfit").Float(),
			Leverage:      int(p.Get("leverage").Int()),
		}
		return false
	})
	return pos, nil
}

func (c *Client) GetBalance(ctx context.Context) (exchange.Balance, error) {
	data, err := c.signedRequest(ctx, http.MethodGet, "/openApi/swap/v2/user/balance", nil)
	if err != nil {
		return exchange.Balance{}, err
	}
	bal := data.Get("balance")
	return exchange.Balance{
		Asset:     bal.Get("asset").String(),
		Total:     bal.Get("balance").Float(),
		Available: bal.Get("availableMargin").Float(),
	}, nil
}

// ClosePosition issues a reduce-only market order against the live
// position direction.
func (c *Client) ClosePosition(ctx context.Context, symbol string, amount float64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := c.signedRequest(ctx, http.MethodGet, "/openApi/swap/v2/user/positions", params)
	if err != nil {
		return err
	}
	var size float64
	var side exchange.Side
	data.ForEach(func(_, p gjson.Result) bool {
		amt := p.Get("positionAmt").Float()
		if amt == 0 {
			return true
		}
		if amt > 0 {
			side = exchange.SideSell
			size = amt
		} else {
			side = exchange.SideBuy
			size = -amt
		}
		return false
	})
	if size == 0 {
		return nil
	}
	if amount > 0 && amount < size {
		size = amount
	}
	p := c.contractPrecision(symbol)
	orderParams := url.Values{}
	orderParams.Set("symbol", symbol)
	orderParams.Set("side", string(side))
	orderParams.Set("positionSide", "BOTH")
	orderParams.Set("type", "MARKET")
	orderParams.Set("quantity", strconv.FormatFloat(c.FormatAmount(symbol, size), 'f', int(p.AmountDecimals), 64))
	orderParams.Set("reduceOnly", "true")
	_, err = c.placeOrder(ctx, orderParams)
	return err
}

var _ exchange.Client = (*Client)(nil)
