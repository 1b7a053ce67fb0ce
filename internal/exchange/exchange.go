// Package exchange
package exchange

import (
	"context"
	"errors"

	"github.com/amirphl/ladder-trader/internal/market"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Opposite() Side {
	if s == Sell {
		return Buy
	}
	return Sell
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

const KindLimit = "LIMIT"

var ErrOrderRejected = errors.New("exchange: order rejected")

// OrderRequest is what a rung hands to the broker.
type OrderRequest struct {
	SecurityID string
	Side       Side
	Quantity   int
	Kind       string
	Product    string
	Price      float64
}

// Placement is the broker's answer to a placement. Accepted=false with a nil
// error is an immediate rejection.
type Placement struct {
	OrderID     string
	OrderStatus string
	Accepted    bool
	Reason      string
}

// Broker places and cancels orders. Errors are treated as failed calls, never
// as fatal conditions.
type Broker interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (Placement, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// StatusSource is polled by the status feed to fill the shared status cache.
type StatusSource interface {
	OrderStatus(ctx context.Context, orderID string) (market.Status, error)
}

// PriceSource is polled by the price feed to fill the shared price cache.
type PriceSource interface {
	LastTick(ctx context.Context, securityID string) (market.Tick, error)
}
