package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder/internal/store"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ladder.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTrade() store.TradeRecord {
	return store.TradeRecord{
		TradeID:        "SOL-SHORT-0123456789ab",
		Symbol:         "SOL",
		Direction:      "SHORT",
		MarginUSD:      300,
		Leverage:       "10x",
		EntryPrice:     210,
		StopLoss:       221,
		CurrentSLPrice: 221,
		Notes:          "range rejection",
		SetupType:      "breakdown",
		Entries: []store.EntryRecord{
			{Label: "Entry", Price: 210, SizeUSD: 150},
			{Label: "Rebuy1", Price: 215, SizeUSD: 150},
		},
		TakeProfits: []store.TakeProfitRecord{
			{Level: "TP1", Price: 205, SizePercent: 50},
			{Level: "TP2", Price: 200, SizePercent: 50},
		},
	}
}

func TestCreateAndGetTrade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateTrade(ctx, sampleTrade())
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, store.StatusPending, created.Status)

	got, ok, err := s.GetTrade(ctx, created.TradeID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "SOL", got.Symbol)
	assert.Equal(t, "range rejection", got.Notes)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "Entry", got.Entries[0].Label)
	require.Len(t, got.TakeProfits, 2)
	assert.InDelta(t, 205, got.TakeProfits[0].Price, 1e-9)

	_, ok, err = s.GetTrade(ctx, "BTC-LONG-ffffffffffff")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateTradeRequiresTradeID(t *testing.T) {
	s := newTestStore(t)
	rec := sampleTrade()
	rec.TradeID = ""
	_, err := s.CreateTrade(context.Background(), rec)
	require.Error(t, err)
}

func TestListTradesByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleTrade()
	_, err := s.CreateTrade(ctx, a)
	require.NoError(t, err)

	b := sampleTrade()
	b.TradeID = "BTC-LONG-0123456789ab"
	b.Symbol = "BTC"
	b.Status = store.StatusOpen
	_, err = s.CreateTrade(ctx, b)
	require.NoError(t, err)

	open, err := s.ListTradesByStatus(ctx, store.StatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "BTC", open[0].Symbol)

	all, err := s.ListTradesByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := s.ListTradesByStatus(ctx, store.StatusClosed)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateTradeFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.CreateTrade(ctx, sampleTrade())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.UpdateTradeFields(ctx, created.TradeID, map[string]any{
		"status":           string(store.StatusOpen),
		"started_at":       now,
		"avg_entry":        212.5,
		"position_size":    300.0,
		"current_sl_price": 218.0,
		"is_in_profit":     true,
	}))

	got, _, err := s.GetTrade(ctx, created.TradeID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusOpen, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, now.Unix(), got.StartedAt.Unix())
	assert.InDelta(t, 212.5, got.AvgEntry, 1e-9)
	assert.InDelta(t, 218, got.CurrentSLPrice, 1e-9)
	assert.True(t, got.IsInProfit)

	err = s.UpdateTradeFields(ctx, "missing", map[string]any{"status": "CLOSED"})
	require.Error(t, err)
}

func TestUpdateFills(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.CreateTrade(ctx, sampleTrade())
	require.NoError(t, err)

	require.NoError(t, s.UpdateEntryFill(ctx, created.TradeID, "Entry", "42", false))
	require.NoError(t, s.UpdateEntryFill(ctx, created.TradeID, "Entry", "", true))
	require.NoError(t, s.UpdateTakeProfitFill(ctx, created.TradeID, "TP1", "43", true))

	got, _, err := s.GetTrade(ctx, created.TradeID)
	require.NoError(t, err)
	assert.Equal(t, "42", got.Entries[0].OrderID)
	assert.True(t, got.Entries[0].Filled)
	require.NotNil(t, got.Entries[0].FilledAt)
	assert.False(t, got.Entries[1].Filled)
	assert.True(t, got.TakeProfits[0].Filled)
	assert.Equal(t, "43", got.TakeProfits[0].OrderID)
}

func TestEventsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.CreateTrade(ctx, sampleTrade())
	require.NoError(t, err)

	require.NoError(t, s.AppendEvent(ctx, created.TradeID, store.EventTradeStarted, map[string]any{"entries": 2}))
	require.NoError(t, s.AppendEvent(ctx, created.TradeID, store.EventOrderFilled, map[string]any{"label": "Entry"}))
	require.NoError(t, s.AppendEvent(ctx, created.TradeID, store.EventSLMoved, nil))

	events, err := s.ListEvents(ctx, created.TradeID, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, store.EventSLMoved, events[0].Type)
	assert.Equal(t, store.EventOrderFilled, events[1].Type)
	assert.Equal(t, "Entry", events[1].Data["label"])
}

func TestCredentialResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.DefaultCredential(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.SaveCredential(ctx, store.CredentialRecord{
		Name: "secondary", Exchange: "binance", APIKey: "k1", APISecret: "s1", Active: true,
	})
	require.NoError(t, err)
	_, err = s.SaveCredential(ctx, store.CredentialRecord{
		Name: "main", Exchange: "bingx", APIKey: "k2", APISecret: "s2",
		IsDefault: true, Active: true,
	})
	require.NoError(t, err)
	_, err = s.SaveCredential(ctx, store.CredentialRecord{
		Name: "revoked", Exchange: "bingx", APIKey: "k3", APISecret: "s3",
		IsDefault: true, Active: false,
	})
	require.NoError(t, err)

	def, ok, err := s.DefaultCredential(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "main", def.Name)

	active, err := s.ListActiveCredentials(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}
