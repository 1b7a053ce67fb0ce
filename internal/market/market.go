// Package market
package market

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status is the order status published into the shared cache. Only TRADED and
// CANCELLED are terminal; anything else (e.g. PENDING, TRANSIT) means the
// broker knows the order but it is still working.
type Status string

const (
	StatusTraded    Status = "TRADED"
	StatusCancelled Status = "CANCELLED"
	StatusPending   Status = "PENDING"
)

var ErrClosed = errors.New("market: cache closed")

// NormalizeStatus maps broker status vocabularies onto cache statuses.
func NormalizeStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRADED", "FILLED", "DONE":
		return StatusTraded
	case "CANCELLED", "CANCELED", "EXPIRED", "REJECTED":
		return StatusCancelled
	case "":
		return ""
	default:
		return Status(strings.ToUpper(strings.TrimSpace(s)))
	}
}

func (s Status) Terminal() bool {
	return s == StatusTraded || s == StatusCancelled
}

// Tick represents the last trade seen for a security.
type Tick struct {
	SecurityID string
	Price      float64
	Quantity   float64
	Timestamp  time.Time
}

// StatusCache is the read side of the order-status cache. A missing entry
// reports ok=false and is not an error.
type StatusCache interface {
	Status(ctx context.Context, orderID string) (Status, bool, error)
}

// PriceFeed is the read side of the last-traded-price cache.
type PriceFeed interface {
	LastPrice(ctx context.Context, securityID string) (float64, bool, error)
}

type StatusWriter interface {
	SetStatus(ctx context.Context, orderID string, s Status) error
}

type PriceWriter interface {
	SetPrice(ctx context.Context, securityID string, price float64) error
}

// Cache is the full shared cache. Ladders only hold the read interfaces.
type Cache interface {
	StatusCache
	PriceFeed
	StatusWriter
	PriceWriter
	Close() error
}
