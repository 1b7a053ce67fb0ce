package ladder

import (
	"errors"
	"fmt"

	"github.com/amirphl/ladder-trader/internal/exchange"
)

// Params are the live-tunable settings of one ladder.
type Params struct {
	Unit           int           `json:"unit" yaml:"unit"`
	Diff           float64       `json:"diff" yaml:"diff"` // percent, 0.5 means 0.5%
	Zag            int           `json:"zag" yaml:"zag"`
	Product        string        `json:"type" yaml:"type"`
	OrderKind      string        `json:"order_type" yaml:"order_type"`
	Side           exchange.Side `json:"transaction_type" yaml:"transaction_type"`
	FrequencyAware bool          `json:"frequency_aware" yaml:"frequency_aware"`
}

func DefaultParams() Params {
	return Params{
		Unit:           1,
		Diff:           0.5,
		Zag:            1,
		Product:        "INTRADAY",
		OrderKind:      exchange.KindLimit,
		Side:           exchange.Buy,
		FrequencyAware: true,
	}
}

var ErrInvalidParams = errors.New("ladder: invalid params")

func (p Params) Validate() error {
	switch {
	case p.Unit < 1:
		return fmt.Errorf("%w: unit must be at least 1, got %d", ErrInvalidParams, p.Unit)
	case p.Zag < 1:
		return fmt.Errorf("%w: zag must be at least 1, got %d", ErrInvalidParams, p.Zag)
	case p.Diff < 0:
		return fmt.Errorf("%w: diff must not be negative, got %v", ErrInvalidParams, p.Diff)
	case !p.Side.Valid():
		return fmt.Errorf("%w: transaction_type must be BUY or SELL, got %q", ErrInvalidParams, p.Side)
	case p.OrderKind != exchange.KindLimit:
		return fmt.Errorf("%w: only LIMIT orders are supported, got %q", ErrInvalidParams, p.OrderKind)
	case p.Product == "":
		return fmt.Errorf("%w: type is required", ErrInvalidParams)
	}
	return nil
}

// Patch is a partial update; nil fields keep their current value.
type Patch struct {
	Unit           *int           `json:"unit,omitempty"`
	Diff           *float64       `json:"diff,omitempty"`
	Zag            *int           `json:"zag,omitempty"`
	Product        *string        `json:"type,omitempty"`
	OrderKind      *string        `json:"order_type,omitempty"`
	Side           *exchange.Side `json:"transaction_type,omitempty"`
	FrequencyAware *bool          `json:"frequency_aware,omitempty"`
}

func (p Params) Apply(patch Patch) Params {
	if patch.Unit != nil {
		p.Unit = *patch.Unit
	}
	if patch.Diff != nil {
		p.Diff = *patch.Diff
	}
	if patch.Zag != nil {
		p.Zag = *patch.Zag
	}
	if patch.Product != nil {
		p.Product = *patch.Product
	}
	if patch.OrderKind != nil {
		p.OrderKind = *patch.OrderKind
	}
	if patch.Side != nil {
		p.Side = *patch.Side
	}
	if patch.FrequencyAware != nil {
		p.FrequencyAware = *patch.FrequencyAware
	}
	return p
}
