package gormstore

import (
	"gorm.io/datatypes"
)

type tradeModel struct {
	ID      int64  `gorm:"column:id;primaryKey"`
	TradeID string `gorm:"column:trade_id;uniqueIndex"`

	Symbol    string `gorm:"column:symbol;index"`
	Direction string `gorm:"column:direction"`
	Status    string `gorm:"column:status;index"`

	MarginUSD      float64 `gorm:"column:margin_usd"`
	Leverage       string  `gorm:"column:leverage"`
	EntryPrice     float64 `gorm:"column:entry_price"`
	AveragePrice   float64 `gorm:"column:average_price"`
	StopLoss       float64 `gorm:"column:stop_loss"`
	MaxLossPercent float64 `gorm:"column:max_loss_percent"`

	PositionSize     float64 `gorm:"column:position_size"`
	AvgEntry         float64 `gorm:"column:avg_entry"`
	CurrentSLPrice   float64 `gorm:"column:current_sl_price"`
	CurrentSLOrderID string  `gorm:"column:current_sl_order_id"`
	IsInProfit       bool    `gorm:"column:is_in_profit"`

	UnrealizedPnL float64 `gorm:"column:unrealized_pnl"`
	RealizedPnL   float64 `gorm:"column:realized_pnl"`

	CreatedAtUnix int64  `gorm:"column:created_at"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
	StartedAtUnix *int64 `gorm:"column:started_at"`
	ClosedAtUnix  *int64 `gorm:"column:closed_at"`

	Notes           string `gorm:"column:notes"`
	Theory          string `gorm:"column:theory"`
	SetupType       string `gorm:"column:setup_type"`
	ConfidenceLevel int    `gorm:"column:confidence_level"`
	Tags            string `gorm:"column:tags"`
}

func (tradeModel) TableName() string { return "trades" }

type entryModel struct {
	ID      int64  `gorm:"column:id;primaryKey"`
	TradeID string `gorm:"column:trade_id;index"`

	Label            string  `gorm:"column:label"`
	Price            float64 `gorm:"column:price"`
	SizeUSD          float64 `gorm:"column:size_usd"`
	AverageAfterFill float64 `gorm:"column:average_after_fill"`

	Filled       bool   `gorm:"column:filled"`
	FilledAtUnix *int64 `gorm:"column:filled_at"`
	OrderID      string `gorm:"column:order_id"`
}

func (entryModel) TableName() string { return "order_entries" }

type takeProfitModel struct {
	ID      int64  `gorm:"column:id;primaryKey"`
	TradeID string `gorm:"column:trade_id;index"`

	Level       string  `gorm:"column:level"`
	Price       float64 `gorm:"column:price"`
	SizePercent float64 `gorm:"column:size_percent"`

	Filled       bool   `gorm:"column:filled"`
	FilledAtUnix *int64 `gorm:"column:filled_at"`
	OrderID      string `gorm:"column:order_id"`
}

func (takeProfitModel) TableName() string { return "take_profits" }

type tradeEventModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	TradeID       string         `gorm:"column:trade_id;index"`
	EventType     string         `gorm:"column:event_type"`
	EventData     datatypes.JSON `gorm:"column:event_data"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (tradeEventModel) TableName() string { return "trade_events" }

type credentialModel struct {
	ID        int64  `gorm:"column:id;primaryKey"`
	Name      string `gorm:"column:name"`
	Exchange  string `gorm:"column:exchange"`
	APIKey    string `gorm:"column:api_key"`
	APISecret string `gorm:"column:api_secret"`
	Testnet   bool   `gorm:"column:testnet"`
	IsDefault bool   `gorm:"column:is_default;index"`
	Active    bool   `gorm:"column:active;index"`
}

func (credentialModel) TableName() string { return "api_credentials" }
