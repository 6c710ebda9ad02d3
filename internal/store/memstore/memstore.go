// Package memstore is an in-memory store.Store used by tests and local
// experiments. It mirrors the gorm store's semantics without SQLite.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ladder/internal/store"
)

type MemStore struct {
	mu     sync.Mutex
	trades map[string]*store.TradeRecord
	events map[string][]store.EventRecord
	creds  []store.CredentialRecord

	nextTradeID int64
	nextEventID int64
	nextCredID  int64
}

func New() *MemStore {
	return &MemStore{
		trades: make(map[string]*store.TradeRecord),
		events: make(map[string][]store.EventRecord),
	}
}

var _ store.Store = (*MemStore)(nil)

func (m *MemStore) Close() error { return nil }

func (m *MemStore) CreateTrade(ctx context.Context, rec store.TradeRecord) (store.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.TradeID == "" {
		return store.TradeRecord{}, fmt.Errorf("trade_id 必填")
	}
	if _, ok := m.trades[rec.TradeID]; ok {
		return store.TradeRecord{}, fmt.Errorf("trade %s 已存在", rec.TradeID)
	}
	m.nextTradeID++
	rec.ID = m.nextTradeID
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = store.StatusPending
	}
	cp := cloneRecord(rec)
	m.trades[rec.TradeID] = &cp
	return cloneRecord(cp), nil
}

func (m *MemStore) GetTrade(ctx context.Context, tradeID string) (store.TradeRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.trades[tradeID]
	if !ok {
		return store.TradeRecord{}, false, nil
	}
	return cloneRecord(*rec), true, nil
}

func (m *MemStore) ListTradesByStatus(ctx context.Context, statuses ...store.TradeStatus) ([]store.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.TradeRecord
	for _, rec := range m.trades {
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if rec.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, cloneRecord(*rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) UpdateTradeFields(ctx context.Context, tradeID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.trades[tradeID]
	if !ok {
		return fmt.Errorf("trade %s 不存在", tradeID)
	}
	for key, val := range fields {
		switch key {
		case "status":
			rec.Status = store.TradeStatus(toString(val))
		case "started_at":
			ts := toTime(val)
			rec.StartedAt = &ts
		case "closed_at":
			ts := toTime(val)
			rec.ClosedAt = &ts
		case "current_sl_price":
			rec.CurrentSLPrice = toFloat(val)
		case "current_sl_order_id":
			rec.CurrentSLOrderID = toString(val)
		case "avg_entry":
			rec.AvgEntry = toFloat(val)
		case "position_size":
			rec.PositionSize = toFloat(val)
		case "is_in_profit":
			rec.IsInProfit, _ = val.(bool)
		case "unrealized_pnl":
			rec.UnrealizedPnL = toFloat(val)
		case "realized_pnl":
			rec.RealizedPnL = toFloat(val)
		case "notes":
			rec.Notes = toString(val)
		default:
			return fmt.Errorf("未知字段: %s", key)
		}
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) UpdateEntryFill(ctx context.Context, tradeID, label, orderID string, filled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.trades[tradeID]
	if !ok {
		return fmt.Errorf("trade %s 不存在", tradeID)
	}
	for i := range rec.Entries {
		if rec.Entries[i].Label != label {
			continue
		}
		if orderID != "" {
			rec.Entries[i].OrderID = orderID
		}
		rec.Entries[i].Filled = filled
		if filled {
			now := time.Now()
			rec.Entries[i].FilledAt = &now
		}
		return nil
	}
	return fmt.Errorf("entry %s 不存在", label)
}

func (m *MemStore) UpdateTakeProfitFill(ctx context.Context, tradeID, level, orderID string, filled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.trades[tradeID]
	if !ok {
		return fmt.Errorf("trade %s 不存在", tradeID)
	}
	for i := range rec.TakeProfits {
		if rec.TakeProfits[i].Level != level {
			continue
		}
		if orderID != "" {
			rec.TakeProfits[i].OrderID = orderID
		}
		rec.TakeProfits[i].Filled = filled
		if filled {
			now := time.Now()
			rec.TakeProfits[i].FilledAt = &now
		}
		return nil
	}
	return fmt.Errorf("take profit %s 不存在", level)
}

func (m *MemStore) AppendEvent(ctx context.Context, tradeID, eventType string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	m.events[tradeID] = append(m.events[tradeID], store.EventRecord{
		ID:        m.nextEventID,
		TradeID:   tradeID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *MemStore) ListEvents(ctx context.Context, tradeID string, limit int) ([]store.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events[tradeID]
	if limit <= 0 {
		limit = 100
	}
	// newest first, same as the gorm store
	out := make([]store.EventRecord, 0, limit)
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	return out, nil
}

func (m *MemStore) DefaultCredential(ctx context.Context) (store.CredentialRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.IsDefault && c.Active {
			return c, true, nil
		}
	}
	return store.CredentialRecord{}, false, nil
}

func (m *MemStore) ListActiveCredentials(ctx context.Context) ([]store.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.CredentialRecord
	for _, c := range m.creds {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemStore) SaveCredential(ctx context.Context, rec store.CredentialRecord) (store.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == 0 {
		m.nextCredID++
		rec.ID = m.nextCredID
		m.creds = append(m.creds, rec)
		return rec, nil
	}
	for i := range m.creds {
		if m.creds[i].ID == rec.ID {
			m.creds[i] = rec
			return rec, nil
		}
	}
	m.creds = append(m.creds, rec)
	return rec, nil
}

func cloneRecord(rec store.TradeRecord) store.TradeRecord {
	cp := rec
	cp.Entries = append([]store.EntryRecord(nil), rec.Entries...)
	cp.TakeProfits = append([]store.TakeProfitRecord(nil), rec.TakeProfits...)
	return cp
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return 0
}

func toTime(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	case int64:
		return time.Unix(x, 0)
	}
	return time.Now()
}
