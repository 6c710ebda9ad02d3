package store

import (
	"context"
	"time"
)

// TradeStatus transitions are forward-only:
// PENDING → ACTIVE → OPEN → CLOSED. CLOSED never reopens.
type TradeStatus string

const (
	StatusPending TradeStatus = "PENDING"
	StatusActive  TradeStatus = "ACTIVE"
	StatusOpen    TradeStatus = "OPEN"
	StatusClosed  TradeStatus = "CLOSED"
)

// Event types appended for audit.
const (
	EventTradeStarted      = "TRADE_STARTED"
	EventOrderPlaced       = "ORDER_PLACED"
	EventOrderFilled       = "ORDER_FILLED"
	EventOrderCancelled    = "ORDER_CANCELLED"
	EventSLMoved           = "SL_MOVED"
	EventTPHit             = "TP_HIT"
	EventTradeClosed       = "TRADE_CLOSED"
	EventMonitoringResumed = "MONITORING_RESUMED"
)

// EntryRecord mirrors one staged entry of the persisted trade.
type EntryRecord struct {
	ID               int64
	Label            string
	Price            float64
	SizeUSD          float64
	AverageAfterFill float64
	Filled           bool
	FilledAt         *time.Time
	OrderID          string
}

type TakeProfitRecord struct {
	ID          int64
	Level       string
	Price       float64
	SizePercent float64
	Filled      bool
	FilledAt    *time.Time
	OrderID     string
}

// TradeRecord is the persisted aggregate. Entries and TakeProfits are
// loaded together with the trade.
type TradeRecord struct {
	ID      int64
	TradeID string // e.g. "SOL-SHORT-3c0c976d1ea5"

	Symbol    string
	Direction string
	Status    TradeStatus

	MarginUSD      float64
	Leverage       string
	EntryPrice     float64
	AveragePrice   float64
	StopLoss       float64
	MaxLossPercent float64

	PositionSize     float64
	AvgEntry         float64
	CurrentSLPrice   float64
	CurrentSLOrderID string
	IsInProfit       bool

	UnrealizedPnL float64
	RealizedPnL   float64

	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
	ClosedAt  *time.Time

	// journal fields
	Notes           string
	Theory          string
	SetupType       string
	ConfidenceLevel int
	Tags            string

	Entries     []EntryRecord
	TakeProfits []TakeProfitRecord
}

type EventRecord struct {
	ID        int64
	TradeID   string
	Type      string
	Data      map[string]any
	CreatedAt time.Time
}

// CredentialRecord is an opaque credential handle; encryption of the
// secret material is outside the core's concern.
type CredentialRecord struct {
	ID        int64
	Name      string
	Exchange  string
	APIKey    string
	APISecret string
	Testnet   bool
	IsDefault bool
	Active    bool
}

// Store is the durable trade/event record the core requires: create,
// read, partial update, event append, credential lookup. Schema and
// query mechanics stay behind this interface.
type Store interface {
	CreateTrade(ctx context.Context, rec TradeRecord) (TradeRecord, error)
	GetTrade(ctx context.Context, tradeID string) (TradeRecord, bool, error)
	ListTradesByStatus(ctx context.Context, statuses ...TradeStatus) ([]TradeRecord, error)

	// UpdateTradeFields applies a partial column update keyed by snake_case
	// field names.
	UpdateTradeFields(ctx context.Context, tradeID string, fields map[string]any) error

	UpdateEntryFill(ctx context.Context, tradeID, label, orderID string, filled bool) error
	UpdateTakeProfitFill(ctx context.Context, tradeID, level, orderID string, filled bool) error

	AppendEvent(ctx context.Context, tradeID, eventType string, data map[string]any) error
	ListEvents(ctx context.Context, tradeID string, limit int) ([]EventRecord, error)

	DefaultCredential(ctx context.Context) (CredentialRecord, bool, error)
	ListActiveCredentials(ctx context.Context) ([]CredentialRecord, error)
	SaveCredential(ctx context.Context, rec CredentialRecord) (CredentialRecord, error)

	Close() error
}
