package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vitwit/onramp/types"
)

var _ Store = (*GormStore)(nil)

type settlementRow struct {
	ID             string          `gorm:"type:char(36);not null"`
	PaymentTxHash  string          `gorm:"primaryKey;type:varchar(255)"`
	BuyerAddress   string          `gorm:"type:char(42);not null;index"`
	USDAmount      decimal.Decimal `gorm:"type:decimal(30,8);not null"`
	TokenAmount    decimal.Decimal `gorm:"type:decimal(65,18);not null"`
	Price          decimal.Decimal `gorm:"type:decimal(65,30);not null"`
	PriceSource    string          `gorm:"type:varchar(32);not null;default:''"`
	Chain          string          `gorm:"type:varchar(64);not null"`
	TransferTxHash string          `gorm:"type:varchar(66);not null;default:''"`
	State          string          `gorm:"type:varchar(16);not null;index"`
	Error          string          `gorm:"type:text"`
	CreatedAt      time.Time       `gorm:"index"`
	UpdatedAt      time.Time
}

func (settlementRow) TableName() string { return "settlement_records" }

func (r *settlementRow) toRecord() *types.SettlementRecord {
	return &types.SettlementRecord{
		ID:             r.ID,
		PaymentTxHash:  r.PaymentTxHash,
		BuyerAddress:   r.BuyerAddress,
		USDAmount:      r.USDAmount,
		TokenAmount:    r.TokenAmount,
		Price:          r.Price,
		PriceSource:    types.PriceSource(r.PriceSource),
		Chain:          types.Network(r.Chain),
		TransferTxHash: r.TransferTxHash,
		State:          types.SettlementState(r.State),
		Error:          r.Error,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func rowFromRecord(rec *types.SettlementRecord) *settlementRow {
	return &settlementRow{
		ID:             rec.ID,
		PaymentTxHash:  rec.PaymentTxHash,
		BuyerAddress:   rec.BuyerAddress,
		USDAmount:      rec.USDAmount,
		TokenAmount:    rec.TokenAmount,
		Price:          rec.Price,
		PriceSource:    string(rec.PriceSource),
		Chain:          string(rec.Chain),
		TransferTxHash: rec.TransferTxHash,
		State:          string(rec.State),
		Error:          rec.Error,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

type priceEventRow struct {
	ID            string          `gorm:"primaryKey;type:char(36)"`
	TokenID       string          `gorm:"type:varchar(128);not null"`
	Kind          string          `gorm:"type:varchar(32);not null"`
	Source        string          `gorm:"type:varchar(32);not null"`
	Price         decimal.Decimal `gorm:"type:decimal(65,30);not null"`
	PreviousPrice decimal.Decimal `gorm:"type:decimal(65,30);not null"`
	Detail        string          `gorm:"type:text"`
	CreatedAt     time.Time       `gorm:"index"`
}

func (priceEventRow) TableName() string { return "price_events" }

// OpenMySQL opens a GORM connection to MySQL.
// dsn: "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=UTC"
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       dsn,
		DefaultStringSize:         256,
		SkipInitializeWithVersion: false,
	}), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	return db, nil
}

// GormStore implements Store on any GORM dialect; production uses MySQL.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the ledger tables and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&settlementRow{}, &priceEventRow{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Begin(ctx context.Context, rec *types.SettlementRecord) (bool, *types.SettlementRecord, error) {
	fresh, err := prepare(rec, time.Now().UTC())
	if err != nil {
		return false, nil, err
	}

	tx := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_tx_hash"}},
		DoNothing: true,
	}).Create(rowFromRecord(fresh))
	if tx.Error != nil {
		return false, nil, fmt.Errorf("failed to insert settlement record: %w", tx.Error)
	}

	created := tx.RowsAffected > 0
	stored, err := g.Get(ctx, fresh.PaymentTxHash)
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

func (g *GormStore) Advance(ctx context.Context, key string, to types.SettlementState, fields types.AdvanceFields) (*types.SettlementRecord, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := g.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(cur.State, to); err != nil {
			return nil, err
		}

		next := *cur
		fields.Apply(&next)
		next.State = to
		next.UpdatedAt = time.Now().UTC()

		tx := g.db.WithContext(ctx).Model(&settlementRow{}).
			Where("payment_tx_hash = ? AND state = ?", key, string(cur.State)).
			Updates(map[string]any{
				"token_amount":     next.TokenAmount,
				"price":            next.Price,
				"price_source":     string(next.PriceSource),
				"transfer_tx_hash": next.TransferTxHash,
				"state":            string(next.State),
				"error":            next.Error,
				"updated_at":       next.UpdatedAt,
			})
		if tx.Error != nil {
			return nil, fmt.Errorf("failed to update settlement record: %w", tx.Error)
		}
		if tx.RowsAffected == 1 {
			return &next, nil
		}
	}
	return nil, fmt.Errorf("%w: concurrent update on %s", ErrInvalidTransition, key)
}

func (g *GormStore) Get(ctx context.Context, key string) (*types.SettlementRecord, error) {
	var row settlementRow
	err := g.db.WithContext(ctx).Where("payment_tx_hash = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement record: %w", err)
	}
	return row.toRecord(), nil
}

func (g *GormStore) List(ctx context.Context, filter ListFilter) ([]*types.SettlementRecord, error) {
	q := g.db.WithContext(ctx).Model(&settlementRow{})
	if filter.State != "" {
		q = q.Where("state = ?", string(filter.State))
	}
	if filter.Buyer != "" {
		q = q.Where("buyer_address = ?", filter.Buyer)
	}

	var rows []settlementRow
	if err := q.Order("created_at DESC").Limit(filter.limit()).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list settlement records: %w", err)
	}

	out := make([]*types.SettlementRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

func (g *GormStore) RecordPriceEvent(ctx context.Context, ev *types.PriceEvent) error {
	prepareEvent(ev, time.Now().UTC())
	row := &priceEventRow{
		ID:            ev.ID,
		TokenID:       ev.TokenID,
		Kind:          string(ev.Kind),
		Source:        string(ev.Source),
		Price:         ev.Price,
		PreviousPrice: ev.PreviousPrice,
		Detail:        ev.Detail,
		CreatedAt:     ev.CreatedAt,
	}
	if err := g.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert price event: %w", err)
	}
	return nil
}

func (g *GormStore) ListPriceEvents(ctx context.Context, limit int) ([]*types.PriceEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []priceEventRow
	if err := g.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list price events: %w", err)
	}

	out := make([]*types.PriceEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, &types.PriceEvent{
			ID:            r.ID,
			TokenID:       r.TokenID,
			Kind:          types.PriceEventKind(r.Kind),
			Source:        types.PriceSource(r.Source),
			Price:         r.Price,
			PreviousPrice: r.PreviousPrice,
			Detail:        r.Detail,
			CreatedAt:     r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
