package market

import (
	"context"
	"sync"
)

type MemoryCache struct {
	mu       sync.RWMutex
	statuses map[string]Status
	prices   map[string]float64
	closed   bool
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		statuses: make(map[string]Status),
		prices:   make(map[string]float64),
	}
}

func (m *MemoryCache) Status(ctx context.Context, orderID string) (Status, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	s, ok := m.statuses[orderID]
	return s, ok, nil
}

func (m *MemoryCache) LastPrice(ctx context.Context, securityID string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, false, ErrClosed
	}
	p, ok := m.prices[securityID]
	return p, ok, nil
}

func (m *MemoryCache) SetStatus(ctx context.Context, orderID string, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.statuses[orderID] = s
	return nil
}

func (m *MemoryCache) SetPrice(ctx context.Context, securityID string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.prices[securityID] = price
	return nil
}

// DeleteStatus drops a cached status; used by tests and the paper broker.
func (m *MemoryCache) DeleteStatus(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, orderID)
}

func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
