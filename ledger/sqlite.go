package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/vitwit/onramp/types"
)

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS settlement_records (
    id TEXT NOT NULL,
    payment_tx_hash TEXT PRIMARY KEY,
    buyer_address TEXT NOT NULL,
    usd_amount TEXT NOT NULL,
    token_amount TEXT NOT NULL DEFAULT '0',
    price TEXT NOT NULL DEFAULT '0',
    price_source TEXT NOT NULL DEFAULT '',
    chain TEXT NOT NULL,
    transfer_tx_hash TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settlement_records_state ON settlement_records(state);
CREATE INDEX IF NOT EXISTS idx_settlement_records_created_at ON settlement_records(created_at);

CREATE TABLE IF NOT EXISTS price_events (
    id TEXT PRIMARY KEY,
    token_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    source TEXT NOT NULL,
    price TEXT NOT NULL,
    previous_price TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_events_created_at ON price_events(created_at);
`

const recordColumns = `id, payment_tx_hash, buyer_address, usd_amount, token_amount, price, price_source,
    chain, transfer_tx_hash, state, error, created_at, updated_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection serializes writers and keeps the conditional updates atomic
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Begin(ctx context.Context, rec *types.SettlementRecord) (bool, *types.SettlementRecord, error) {
	fresh, err := prepare(rec, s.now())
	if err != nil {
		return false, nil, err
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO settlement_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payment_tx_hash) DO NOTHING`,
		fresh.ID, fresh.PaymentTxHash, fresh.BuyerAddress, fresh.USDAmount.String(),
		fresh.TokenAmount.String(), fresh.Price.String(), string(fresh.PriceSource),
		string(fresh.Chain), fresh.TransferTxHash, string(fresh.State), fresh.Error,
		fresh.CreatedAt.UnixNano(), fresh.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert settlement record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("failed to read rows affected: %w", err)
	}

	stored, err := s.Get(ctx, fresh.PaymentTxHash)
	if err != nil {
		return false, nil, err
	}
	return n > 0, stored, nil
}

func (s *SQLiteStore) Advance(ctx context.Context, key string, to types.SettlementState, fields types.AdvanceFields) (*types.SettlementRecord, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(cur.State, to); err != nil {
			return nil, err
		}

		next := *cur
		fields.Apply(&next)
		next.State = to
		next.UpdatedAt = s.now()

		res, err := s.db.ExecContext(ctx, `UPDATE settlement_records
			SET token_amount = ?, price = ?, price_source = ?, transfer_tx_hash = ?, state = ?, error = ?, updated_at = ?
			WHERE payment_tx_hash = ? AND state = ?`,
			next.TokenAmount.String(), next.Price.String(), string(next.PriceSource),
			next.TransferTxHash, string(next.State), next.Error, next.UpdatedAt.UnixNano(),
			key, string(cur.State),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update settlement record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return &next, nil
		}
	}
	return nil, fmt.Errorf("%w: concurrent update on %s", ErrInvalidTransition, key)
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*types.SettlementRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM settlement_records WHERE payment_tx_hash = ?`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*types.SettlementRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM settlement_records`
	var (
		where []string
		args  []any
	)
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.Buyer != "" {
		where = append(where, "buyer_address = ?")
		args = append(args, filter.Buyer)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlement records: %w", err)
	}
	defer rows.Close()

	var out []*types.SettlementRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordPriceEvent(ctx context.Context, ev *types.PriceEvent) error {
	prepareEvent(ev, s.now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO price_events
		(id, token_id, kind, source, price, previous_price, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TokenID, string(ev.Kind), string(ev.Source), ev.Price.String(),
		ev.PreviousPrice.String(), ev.Detail, ev.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert price event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPriceEvents(ctx context.Context, limit int) ([]*types.PriceEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, token_id, kind, source, price, previous_price, detail, created_at
		FROM price_events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list price events: %w", err)
	}
	defer rows.Close()

	var out []*types.PriceEvent
	for rows.Next() {
		var (
			ev              types.PriceEvent
			kind, source    string
			price, previous string
			created         int64
		)
		if err := rows.Scan(&ev.ID, &ev.TokenID, &kind, &source, &price, &previous, &ev.Detail, &created); err != nil {
			return nil, fmt.Errorf("failed to scan price event: %w", err)
		}
		ev.Kind = types.PriceEventKind(kind)
		ev.Source = types.PriceSource(source)
		ev.Price = parseDecimal(price)
		ev.PreviousPrice = parseDecimal(previous)
		ev.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, &ev)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*types.SettlementRecord, error) {
	var (
		rec                  types.SettlementRecord
		usd, tokens, price   string
		source, chain, state string
		createdAt, updatedAt int64
	)
	err := row.Scan(&rec.ID, &rec.PaymentTxHash, &rec.BuyerAddress, &usd, &tokens, &price, &source,
		&chain, &rec.TransferTxHash, &state, &rec.Error, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.USDAmount = parseDecimal(usd)
	rec.TokenAmount = parseDecimal(tokens)
	rec.Price = parseDecimal(price)
	rec.PriceSource = types.PriceSource(source)
	rec.Chain = types.Network(chain)
	rec.State = types.SettlementState(state)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &rec, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
