package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

// PebbleCache persists the shared status and price caches so a restarted
// process can keep confirming orders placed before the restart.
//
// keys: ltp:<security id> -> decimal string, ord:<broker order id> -> status
type PebbleCache struct {
	db     *pebble.DB
	closed atomic.Bool
}

func OpenPebbleCache(path string) (*PebbleCache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble cache at %s: %w", path, err)
	}
	return &PebbleCache{db: db}, nil
}

func kPrice(securityID string) []byte { return []byte("ltp:" + securityID) }
func kOrder(orderID string) []byte    { return []byte("ord:" + orderID) }

func (p *PebbleCache) get(key []byte) (string, bool, error) {
	if p.closed.Load() {
		return "", false, ErrClosed
	}
	val, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	defer closer.Close()
	return string(val), true, nil
}

func (p *PebbleCache) Status(ctx context.Context, orderID string) (Status, bool, error) {
	v, ok, err := p.get(kOrder(orderID))
	if err != nil || !ok {
		return "", ok, err
	}
	return Status(v), true, nil
}

func (p *PebbleCache) LastPrice(ctx context.Context, securityID string) (float64, bool, error) {
	v, ok, err := p.get(kPrice(securityID))
	if err != nil || !ok {
		return 0, ok, err
	}
	price, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt price for %s: %w", securityID, err)
	}
	return price, true, nil
}

func (p *PebbleCache) SetStatus(ctx context.Context, orderID string, s Status) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.db.Set(kOrder(orderID), []byte(s), pebble.Sync)
}

// SetPrice uses NoSync; prices are overwritten every sync interval.
func (p *PebbleCache) SetPrice(ctx context.Context, securityID string, price float64) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.db.Set(kPrice(securityID), []byte(strconv.FormatFloat(price, 'f', -1, 64)), pebble.NoSync)
}

func (p *PebbleCache) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.db.Close()
}
