package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ladder/internal/store"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore implements store.Store on Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&tradeModel{},
		&entryModel{},
		&takeProfitModel{},
		&tradeEventModel{},
		&credentialModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep the pool tiny, the monitors write through one
	// process anyway.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ store.Store = (*GormStore)(nil)

// --------------------------- Trades ------------------------------------

func (s *GormStore) CreateTrade(ctx context.Context, rec store.TradeRecord) (store.TradeRecord, error) {
	if s == nil || s.db == nil {
		return store.TradeRecord{}, fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(rec.TradeID) == "" {
		return store.TradeRecord{}, fmt.Errorf("trade_id 必填")
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = store.StatusPending
	}
	model := newTradeModel(rec)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		for i := range rec.Entries {
			em := newEntryModel(rec.TradeID, rec.Entries[i])
			if err := tx.Create(&em).Error; err != nil {
				return err
			}
			rec.Entries[i].ID = em.ID
		}
		for i := range rec.TakeProfits {
			tm := newTakeProfitModel(rec.TradeID, rec.TakeProfits[i])
			if err := tx.Create(&tm).Error; err != nil {
				return err
			}
			rec.TakeProfits[i].ID = tm.ID
		}
		return nil
	})
	if err != nil {
		return store.TradeRecord{}, err
	}
	rec.ID = model.ID
	return rec, nil
}

func (s *GormStore) GetTrade(ctx context.Context, tradeID string) (store.TradeRecord, bool, error) {
	if s == nil || s.db == nil {
		return store.TradeRecord{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var model tradeModel
	if err := s.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.TradeRecord{}, false, nil
		}
		return store.TradeRecord{}, false, err
	}
	rec, err := s.hydrate(ctx, model)
	if err != nil {
		return store.TradeRecord{}, false, err
	}
	return rec, true, nil
}

func (s *GormStore) ListTradesByStatus(ctx context.Context, statuses ...store.TradeStatus) ([]store.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	query := s.db.WithContext(ctx).Model(&tradeModel{}).Order("created_at DESC, id DESC")
	if len(statuses) > 0 {
		vals := make([]string, 0, len(statuses))
		for _, st := range statuses {
			vals = append(vals, string(st))
		}
		query = query.Where("status IN ?", vals)
	}
	var models []tradeModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.TradeRecord, 0, len(models))
	for _, m := range models {
		rec, err := s.hydrate(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) UpdateTradeFields(ctx context.Context, tradeID string, fields map[string]any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if len(fields) == 0 {
		return nil
	}
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if t, ok := v.(time.Time); ok {
			v = t.Unix()
		}
		payload[k] = v
	}
	payload["updated_at"] = time.Now().Unix()
	res := s.db.WithContext(ctx).Model(&tradeModel{}).
		Where("trade_id = ?", tradeID).
		Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *GormStore) UpdateEntryFill(ctx context.Context, tradeID, label, orderID string, filled bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	payload := map[string]any{"filled": filled}
	if orderID != "" {
		payload["order_id"] = orderID
	}
	if filled {
		now := time.Now().Unix()
		payload["filled_at"] = now
	}
	return s.db.WithContext(ctx).Model(&entryModel{}).
		Where("trade_id = ? AND label = ?", tradeID, label).
		Updates(payload).Error
}

func (s *GormStore) UpdateTakeProfitFill(ctx context.Context, tradeID, level, orderID string, filled bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	payload := map[string]any{"filled": filled}
	if orderID != "" {
		payload["order_id"] = orderID
	}
	if filled {
		now := time.Now().Unix()
		payload["filled_at"] = now
	}
	return s.db.WithContext(ctx).Model(&takeProfitModel{}).
		Where("trade_id = ? AND level = ?", tradeID, level).
		Updates(payload).Error
}

// --------------------------- Events ------------------------------------

func (s *GormStore) AppendEvent(ctx context.Context, tradeID, eventType string, data map[string]any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	var payload datatypes.JSON
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		payload = datatypes.JSON(raw)
	}
	model := tradeEventModel{
		TradeID:       tradeID,
		EventType:     eventType,
		EventData:     payload,
		CreatedAtUnix: time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListEvents(ctx context.Context, tradeID string, limit int) ([]store.EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []tradeEventModel
	if err := s.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.EventRecord, 0, len(models))
	for _, m := range models {
		var data map[string]any
		if len(m.EventData) > 0 {
			_ = json.Unmarshal(m.EventData, &data)
		}
		out = append(out, store.EventRecord{
			ID:        m.ID,
			TradeID:   m.TradeID,
			Type:      m.EventType,
			Data:      data,
			CreatedAt: time.UnixMilli(m.CreatedAtUnix),
		})
	}
	return out, nil
}

// --------------------------- Credentials --------------------------------

func (s *GormStore) DefaultCredential(ctx context.Context) (store.CredentialRecord, bool, error) {
	if s == nil || s.db == nil {
		return store.CredentialRecord{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var model credentialModel
	err := s.db.WithContext(ctx).
		Where("is_default = ? AND active = ?", true, true).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.CredentialRecord{}, false, nil
		}
		return store.CredentialRecord{}, false, err
	}
	return credentialModelToRecord(model), true, nil
}

func (s *GormStore) ListActiveCredentials(ctx context.Context) ([]store.CredentialRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []credentialModel
	if err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.CredentialRecord, 0, len(models))
	for _, m := range models {
		out = append(out, credentialModelToRecord(m))
	}
	return out, nil
}

func (s *GormStore) SaveCredential(ctx context.Context, rec store.CredentialRecord) (store.CredentialRecord, error) {
	if s == nil || s.db == nil {
		return store.CredentialRecord{}, fmt.Errorf("gorm store 未初始化")
	}
	model := credentialModel{
		ID:        rec.ID,
		Name:      strings.TrimSpace(rec.Name),
		Exchange:  strings.ToLower(strings.TrimSpace(rec.Exchange)),
		APIKey:    rec.APIKey,
		APISecret: rec.APISecret,
		Testnet:   rec.Testnet,
		IsDefault: rec.IsDefault,
		Active:    rec.Active,
	}
	if err := s.db.WithContext(ctx).Save(&model).Error; err != nil {
		return store.CredentialRecord{}, err
	}
	rec.ID = model.ID
	return rec, nil
}

// --------------------------- Helpers ------------------------------------

func (s *GormStore) hydrate(ctx context.Context, m tradeModel) (store.TradeRecord, error) {
	rec := tradeModelToRecord(m)
	var entries []entryModel
	if err := s.db.WithContext(ctx).
		Where("trade_id = ?", m.TradeID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return rec, err
	}
	for _, em := range entries {
		rec.Entries = append(rec.Entries, entryModelToRecord(em))
	}
	var tps []takeProfitModel
	if err := s.db.WithContext(ctx).
		Where("trade_id = ?", m.TradeID).
		Order("id ASC").
		Find(&tps).Error; err != nil {
		return rec, err
	}
	for _, tm := range tps {
		rec.TakeProfits = append(rec.TakeProfits, takeProfitModelToRecord(tm))
	}
	return rec, nil
}

func newTradeModel(rec store.TradeRecord) tradeModel {
	m := tradeModel{
		ID:               rec.ID,
		TradeID:          rec.TradeID,
		Symbol:           strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Direction:        rec.Direction,
		Status:           string(rec.Status),
		MarginUSD:        rec.MarginUSD,
		Leverage:         rec.Leverage,
		EntryPrice:       rec.EntryPrice,
		AveragePrice:     rec.AveragePrice,
		StopLoss:         rec.StopLoss,
		MaxLossPercent:   rec.MaxLossPercent,
		PositionSize:     rec.PositionSize,
		AvgEntry:         rec.AvgEntry,
		CurrentSLPrice:   rec.CurrentSLPrice,
		CurrentSLOrderID: rec.CurrentSLOrderID,
		IsInProfit:       rec.IsInProfit,
		UnrealizedPnL:    rec.UnrealizedPnL,
		RealizedPnL:      rec.RealizedPnL,
		CreatedAtUnix:    rec.CreatedAt.Unix(),
		UpdatedAtUnix:    rec.UpdatedAt.Unix(),
		Notes:            rec.Notes,
		Theory:           rec.Theory,
		SetupType:        rec.SetupType,
		ConfidenceLevel:  rec.ConfidenceLevel,
		Tags:             rec.Tags,
	}
	if rec.StartedAt != nil && !rec.StartedAt.IsZero() {
		v := rec.StartedAt.Unix()
		m.StartedAtUnix = &v
	}
	if rec.ClosedAt != nil && !rec.ClosedAt.IsZero() {
		v := rec.ClosedAt.Unix()
		m.ClosedAtUnix = &v
	}
	return m
}

func tradeModelToRecord(m tradeModel) store.TradeRecord {
	rec := store.TradeRecord{
		ID:               m.ID,
		TradeID:          m.TradeID,
		Symbol:           m.Symbol,
		Direction:        m.Direction,
		Status:           store.TradeStatus(m.Status),
		MarginUSD:        m.MarginUSD,
		Leverage:         m.Leverage,
		EntryPrice:       m.EntryPrice,
		AveragePrice:     m.AveragePrice,
		StopLoss:         m.StopLoss,
		MaxLossPercent:   m.MaxLossPercent,
		PositionSize:     m.PositionSize,
		AvgEntry:         m.AvgEntry,
		CurrentSLPrice:   m.CurrentSLPrice,
		CurrentSLOrderID: m.CurrentSLOrderID,
		IsInProfit:       m.IsInProfit,
		UnrealizedPnL:    m.UnrealizedPnL,
		RealizedPnL:      m.RealizedPnL,
		CreatedAt:        time.Unix(m.CreatedAtUnix, 0),
		UpdatedAt:        time.Unix(m.UpdatedAtUnix, 0),
		Notes:            m.Notes,
		Theory:           m.Theory,
		SetupType:        m.SetupType,
		ConfidenceLevel:  m.ConfidenceLevel,
		Tags:             m.Tags,
	}
	if m.StartedAtUnix != nil && *m.StartedAtUnix > 0 {
		ts := time.Unix(*m.StartedAtUnix, 0)
		rec.StartedAt = &ts
	}
	if m.ClosedAtUnix != nil && *m.ClosedAtUnix > 0 {
		ts := time.Unix(*m.ClosedAtUnix, 0)
		rec.ClosedAt = &ts
	}
	return rec
}

func newEntryModel(tradeID string, rec store.EntryRecord) entryModel {
	m := entryModel{
		ID:               rec.ID,
		TradeID:          tradeID,
		Label:            rec.Label,
		Price:            rec.Price,
		SizeUSD:          rec.SizeUSD,
		AverageAfterFill: rec.AverageAfterFill,
		Filled:           rec.Filled,
		OrderID:          rec.OrderID,
	}
	if rec.FilledAt != nil && !rec.FilledAt.IsZero() {
		v := rec.FilledAt.Unix()
		m.FilledAtUnix = &v
	}
	return m
}

func entryModelToRecord(m entryModel) store.EntryRecord {
	rec := store.EntryRecord{
		ID:               m.ID,
		Label:            m.Label,
		Price:            m.Price,
		SizeUSD:          m.SizeUSD,
		AverageAfterFill: m.AverageAfterFill,
		Filled:           m.Filled,
		OrderID:          m.OrderID,
	}
	if m.FilledAtUnix != nil && *m.FilledAtUnix > 0 {
		ts := time.Unix(*m.FilledAtUnix, 0)
		rec.FilledAt = &ts
	}
	return rec
}

func newTakeProfitModel(tradeID string, rec store.TakeProfitRecord) takeProfitModel {
	m := takeProfitModel{
		ID:          rec.ID,
		TradeID:     tradeID,
		Level:       rec.Level,
		Price:       rec.Price,
		SizePercent: rec.SizePercent,
		Filled:      rec.Filled,
		OrderID:     rec.OrderID,
	}
	if rec.FilledAt != nil && !rec.FilledAt.IsZero() {
		v := rec.FilledAt.Unix()
		m.FilledAtUnix = &v
	}
	return m
}

func takeProfitModelToRecord(m takeProfitModel) store.TakeProfitRecord {
	rec := store.TakeProfitRecord{
		ID:          m.ID,
		Level:       m.Level,
		Price:       m.Price,
		SizePercent: m.SizePercent,
		Filled:      m.Filled,
		OrderID:     m.OrderID,
	}
	if m.FilledAtUnix != nil && *m.FilledAtUnix > 0 {
		ts := time.Unix(*m.FilledAtUnix, 0)
		rec.FilledAt = &ts
	}
	return rec
}

func credentialModelToRecord(m credentialModel) store.CredentialRecord {
	return store.CredentialRecord{
		ID:        m.ID,
		Name:      m.Name,
		Exchange:  m.Exchange,
		APIKey:    m.APIKey,
		APISecret: m.APISecret,
		Testnet:   m.Testnet,
		IsDefault: m.IsDefault,
		Active:    m.Active,
	}
}
