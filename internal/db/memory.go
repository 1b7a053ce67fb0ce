package db

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/ladder-trader/internal/journal"
)

type MemoryStorage struct {
	mu sync.RWMutex

	// Orders by record id
	orders map[string]journal.Order

	// Events (append-only)
	events []journal.Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		orders: make(map[string]journal.Order),
		events: make([]journal.Event, 0, 1024),
	}
}

// GetDB returns nil for in-memory storage (no SQL database)
func (m *MemoryStorage) GetDB() *sql.DB { return nil }

// -------- OrderStorage --------

func (m *MemoryStorage) SaveOrder(ctx context.Context, o journal.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.orders[o.RecordID]; ok {
		prev.BrokerOrderID = o.BrokerOrderID
		prev.State = o.State
		prev.UpdatedAt = o.UpdatedAt
		m.orders[o.RecordID] = prev
		return nil
	}
	m.orders[o.RecordID] = o
	return nil
}

func (m *MemoryStorage) GetOrder(ctx context.Context, recordID string) (*journal.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.orders[recordID]; ok {
		oo := o
		return &oo, nil
	}
	return nil, nil
}

func (m *MemoryStorage) GetOpenOrders(ctx context.Context, account string) ([]journal.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Order
	for _, o := range m.orders {
		if o.Account == account && !isTerminal(o.State) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// -------- JournalStorage --------

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type == eventType && !e.Time.Before(start) && e.Time.Before(end) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *MemoryStorage) DeleteEvents(ctx context.Context, eventType string, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	before = before.UTC()
	kept := m.events[:0]
	for _, e := range m.events {
		if e.Type == eventType && e.Time.Before(before) {
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return nil
}
