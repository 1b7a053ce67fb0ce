package order

import (
	"context"
	"time"

	"github.com/amirphl/ladder-trader/internal/exchange"
	"github.com/amirphl/ladder-trader/internal/journal"
	"github.com/amirphl/ladder-trader/internal/market"
	"github.com/amirphl/ladder-trader/internal/tfutils"
	"go.uber.org/zap"
)

const (
	DefaultCancelAfter  = 2 * time.Second
	DefaultAbandonAfter = 5 * time.Minute
)

// Recorder receives the entry price of every completed round trip.
type Recorder interface {
	Record(price float64)
}

// Watcher is told about every broker order id so the status feed can follow it.
type Watcher interface {
	Watch(brokerOrderID string)
}

// Env carries the collaborators a record talks to. Broker nil means dry mode.
type Env struct {
	Broker   exchange.Broker
	Statuses market.StatusCache
	History  Recorder
	Journal  journal.Journaler
	Watcher  Watcher
	Clock    tfutils.Clock
	Logger   *zap.Logger

	// CancelAfter is the short deadline after which an unconfirmed entry is cancelled.
	CancelAfter time.Duration
	// AbandonAfter is the grace period, counted from the first poll that saw
	// no status, after which an entry is force-closed.
	AbandonAfter time.Duration
	// CallTimeout bounds each collaborator call. Zero means no bound.
	CallTimeout time.Duration
}

// Now reads the injected clock.
func (e *Env) Now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

// Log returns the configured logger or a no-op one.
func (e *Env) Log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Env) cancelAfter() time.Duration {
	if e.CancelAfter <= 0 {
		return DefaultCancelAfter
	}
	return e.CancelAfter
}

func (e *Env) abandonAfter() time.Duration {
	if e.AbandonAfter <= 0 {
		return DefaultAbandonAfter
	}
	return e.AbandonAfter
}

// Call derives the context for one collaborator call.
func (e *Env) Call(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.CallTimeout)
}
