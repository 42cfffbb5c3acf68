package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vitwit/onramp/types"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local ledger. Records do not survive a restart and
// are not shared between instances, so it only suits single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*types.SettlementRecord
	events  []*types.PriceEvent
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*types.SettlementRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Begin(_ context.Context, rec *types.SettlementRecord) (bool, *types.SettlementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec != nil {
		if existing, ok := m.records[rec.PaymentTxHash]; ok {
			cp := *existing
			return false, &cp, nil
		}
	}

	fresh, err := prepare(rec, m.now())
	if err != nil {
		return false, nil, err
	}
	m.records[fresh.PaymentTxHash] = fresh
	cp := *fresh
	return true, &cp, nil
}

func (m *MemoryStore) Advance(_ context.Context, key string, to types.SettlementState, fields types.AdvanceFields) (*types.SettlementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	if err := checkTransition(rec.State, to); err != nil {
		return nil, err
	}

	fields.Apply(rec)
	rec.State = to
	rec.UpdatedAt = m.now()
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*types.SettlementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) ([]*types.SettlementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.SettlementRecord, 0, len(m.records))
	for _, rec := range m.records {
		if filter.State != "" && rec.State != filter.State {
			continue
		}
		if filter.Buyer != "" && rec.BuyerAddress != filter.Buyer {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

func (m *MemoryStore) RecordPriceEvent(_ context.Context, ev *types.PriceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareEvent(ev, m.now())
	cp := *ev
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryStore) ListPriceEvents(_ context.Context, limit int) ([]*types.PriceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = defaultListLimit
	}
	out := make([]*types.PriceEvent, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.events[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
