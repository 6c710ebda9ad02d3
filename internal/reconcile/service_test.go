package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder/internal/config"
	"ladder/internal/exchange"
	"ladder/internal/exchange/exchangetest"
	"ladder/internal/session"
	"ladder/internal/store"
	"ladder/internal/store/memstore"
)

func newTestReconciler(t *testing.T) (*Service, *session.TradingService, *memstore.MemStore, *exchangetest.FakeClient) {
	t.Helper()
	st := memstore.New()
	fake := exchangetest.New()
	cfg := &config.Config{
		Exchange: config.ExchangeConfig{Name: "bingx", Testnet: true},
		Trading: config.TradingConfig{
			PollIntervalSec: 1,
			SLOffsetPercent: 0.1,
			CallTimeoutSec:  1,
		},
	}
	trading := session.NewTradingService(st, session.NewRegistry(), cfg)
	trading.SetClientFactory(func(name, apiKey, apiSecret string, testnet bool, callTimeout time.Duration) (exchange.Client, error) {
		return fake, nil
	})
	t.Cleanup(trading.StopAll)

	_, err := st.SaveCredential(context.Background(), store.CredentialRecord{
		Name: "main", Exchange: "bingx", APIKey: "k", APISecret: "s",
		IsDefault: true, Active: true,
	})
	require.NoError(t, err)
	return New(st, trading), trading, st, fake
}

func seedTrade(t *testing.T, st *memstore.MemStore, status store.TradeStatus, entryFilled bool) store.TradeRecord {
	t.Helper()
	rec := store.TradeRecord{
		TradeID:        "SOL-SHORT-0123456789ab",
		Symbol:         "SOL",
		Direction:      "SHORT",
		Status:         status,
		MarginUSD:      300,
		EntryPrice:     210,
		StopLoss:       221,
		Leverage:       "10x",
		CurrentSLPrice: 221,
		Entries: []store.EntryRecord{
			{Label: "Entry", Price: 210, SizeUSD: 150, Filled: entryFilled, OrderID: "11"},
			{Label: "Rebuy1", Price: 215, SizeUSD: 150},
		},
		TakeProfits: []store.TakeProfitRecord{
			{Level: "TP1", Price: 205, SizePercent: 50},
			{Level: "TP2", Price: 200, SizePercent: 50},
		},
	}
	created, err := st.CreateTrade(context.Background(), rec)
	require.NoError(t, err)
	return created
}

func TestSyncAllNothingToDo(t *testing.T) {
	svc, _, _, _ := newTestReconciler(t)
	sum, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestSyncAllClosesFilledFlatTrade(t *testing.T) {
	svc, _, st, fake := newTestReconciler(t)
	ctx := context.Background()
	rec := seedTrade(t, st, store.StatusOpen, true)
	fake.SetPosition("SOL-USDT", 0, 0) // flat on the venue

	sum, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Synced: 1, Closed: 1}, sum)

	got, _, err := st.GetTrade(ctx, rec.TradeID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, got.Status)

	events, err := st.ListEvents(ctx, rec.TradeID, 100)
	require.NoError(t, err)
	closed := 0
	for _, e := range events {
		if e.Type == store.EventTradeClosed {
			closed++
			assert.Equal(t, "sync_no_position", e.Data["reason"])
		}
	}
	assert.Equal(t, 1, closed)

	// a closed trade leaves the sweep's scope entirely
	sum, err = svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestSyncAllResumesLiveTrade(t *testing.T) {
	svc, trading, st, fake := newTestReconciler(t)
	ctx := context.Background()
	rec := seedTrade(t, st, store.StatusOpen, true)
	fake.SetPosition("SOL-USDT", 0.7, 210)

	sum, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Synced: 1, Resumed: 1}, sum)

	_, live := trading.Registry().Get(rec.TradeID)
	assert.True(t, live)

	// second sweep: session is live, no duplicate resume event
	sum, err = svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Synced: 1}, sum)

	events, err := st.ListEvents(ctx, rec.TradeID, 100)
	require.NoError(t, err)
	resumed := 0
	for _, e := range events {
		if e.Type == store.EventMonitoringResumed {
			resumed++
		}
	}
	assert.Equal(t, 1, resumed)
}

func TestSyncAllClosesUnfilledActiveTrade(t *testing.T) {
	svc, trading, st, fake := newTestReconciler(t)
	ctx := context.Background()
	rec := seedTrade(t, st, store.StatusActive, false)
	fake.SetPosition("SOL-USDT", 0, 0)

	// venue truth wins even before any fill: flat means closed
	sum, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Synced: 1, Closed: 1}, sum)

	_, live := trading.Registry().Get(rec.TradeID)
	assert.False(t, live)

	got, _, err := st.GetTrade(ctx, rec.TradeID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, got.Status)

	events, err := st.ListEvents(ctx, rec.TradeID, 100)
	require.NoError(t, err)
	closed := 0
	for _, e := range events {
		if e.Type == store.EventTradeClosed {
			closed++
			assert.Equal(t, "sync_no_position", e.Data["reason"])
		}
	}
	assert.Equal(t, 1, closed)
}

type gatedStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) ListTradesByStatus(ctx context.Context, statuses ...store.TradeStatus) ([]store.TradeRecord, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Store.ListTradesByStatus(ctx, statuses...)
}

func TestSyncAllSingleFlight(t *testing.T) {
	gated := &gatedStore{
		Store:   memstore.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	cfg := &config.Config{Exchange: config.ExchangeConfig{Name: "bingx"}}
	trading := session.NewTradingService(gated, session.NewRegistry(), cfg)
	svc := New(gated, trading)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.SyncAll(context.Background())
	}()

	// the first sweep holds the flag while blocked in the store
	<-gated.entered
	_, err := svc.SyncAll(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(gated.release)
	<-done

	// flag released after the sweep
	_, err = svc.SyncAll(context.Background())
	require.NoError(t, err)
}
