package factory

import (
	"fmt"
	"strings"
	"time"

	"ladder/internal/exchange"
	"ladder/internal/exchange/binance"
	"ladder/internal/exchange/bingx"
)

// New builds an exchange client by venue name. Credentials come from the
// store's credential records; the core never sees venue protocol details.
func New(name, apiKey, apiSecret string, testnet bool, callTimeout time.Duration) (exchange.Client, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "binance":
		return binance.New(apiKey, apiSecret, testnet, callTimeout), nil
	case "bingx", "":
		return bingx.New(apiKey, apiSecret, testnet, callTimeout), nil
	default:
		return nil, fmt.Errorf("不支持的交易所: %s", name)
	}
}
