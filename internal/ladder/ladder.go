// Package ladder decides when to add a rung for one account and instrument,
// how large and at what price, and drives every rung it holds.
package ladder

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/ladder-trader/internal/journal"
	"github.com/amirphl/ladder-trader/internal/market"
	"github.com/amirphl/ladder-trader/internal/notifier"
	"github.com/amirphl/ladder-trader/internal/order"
	"github.com/amirphl/ladder-trader/internal/pricehistory"
	"go.uber.org/zap"
)

type Config struct {
	Account    string
	Instrument string
	SecurityID string
	Params     Params
	Prices     market.PriceFeed
	History    *pricehistory.Tracker
	Env        *order.Env
	// Notifier is told about every completed round trip. Optional.
	Notifier notifier.Notifier
}

// Ladder is driven by a single runner goroutine and is not safe for
// concurrent use.
type Ladder struct {
	account    string
	instrument string
	securityID string
	params     Params
	prices     market.PriceFeed
	history    *pricehistory.Tracker
	env        *order.Env
	notifier   notifier.Notifier
	logger     *zap.Logger

	rungs []*order.Record
}

func New(cfg Config) *Ladder {
	if cfg.History == nil {
		cfg.History = pricehistory.New()
	}
	env := &order.Env{}
	if cfg.Env != nil {
		e := *cfg.Env
		env = &e
	}
	if env.History == nil {
		env.History = cfg.History
	}
	logger := env.Log().With(zap.String("account", cfg.Account), zap.String("instrument", cfg.Instrument))
	env.Logger = logger
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.Nop{}
	}
	return &Ladder{
		account:    cfg.Account,
		instrument: cfg.Instrument,
		securityID: cfg.SecurityID,
		params:     cfg.Params,
		prices:     cfg.Prices,
		history:    cfg.History,
		env:        env,
		notifier:   cfg.Notifier,
		logger:     logger,
	}
}

func (l *Ladder) Params() Params { return l.params }

// SetParams takes effect from the next rung decision.
func (l *Ladder) SetParams(p Params) { l.params = p }

// Rungs returns the currently held rungs, oldest first.
func (l *Ladder) Rungs() []*order.Record {
	out := make([]*order.Record, len(l.rungs))
	copy(out, l.rungs)
	return out
}

// Render returns the string form of every held rung.
func (l *Ladder) Render() []string {
	out := make([]string, 0, len(l.rungs))
	for _, r := range l.rungs {
		out = append(out, r.String())
	}
	return out
}

// Tick runs maybeEnter, confirmAll and prune in that order. Errors from any
// phase are collected; no phase is skipped because an earlier one failed.
func (l *Ladder) Tick(ctx context.Context) error {
	var errs []error
	if err := l.maybeEnter(ctx); err != nil {
		errs = append(errs, fmt.Errorf("enter: %w", err))
	}
	if err := l.confirmAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("confirm: %w", err))
	}
	l.prune(ctx)
	return errors.Join(errs...)
}

// awaitingFill reports whether the newest rung is an entry the broker has not
// filled, rejected or cancelled yet.
func (l *Ladder) awaitingFill() bool {
	if len(l.rungs) == 0 {
		return false
	}
	switch l.rungs[len(l.rungs)-1].State() {
	case order.Created, order.Submitting, order.Transit:
		return true
	}
	return false
}

func (l *Ladder) maybeEnter(ctx context.Context) error {
	callCtx, cancel := l.env.Call(ctx)
	price, ok, err := l.prices.LastPrice(callCtx, l.securityID)
	cancel()
	if err != nil {
		return fmt.Errorf("last price of %s: %w", l.securityID, err)
	}
	if !ok {
		l.logger.Debug("Ladder | price not available")
		return nil
	}

	rank, freq := l.history.Rank(pricehistory.RoundToNearestHalf(price))
	n := len(l.rungs)
	l.logger.Debug("Ladder | price position", zap.Float64("price", price), zap.Int("rank", rank),
		zap.Int("frequency", freq), zap.Int("depth", n))

	if n == 0 {
		return l.enter(ctx, price, l.quantity(0, rank))
	}
	if l.awaitingFill() {
		return nil
	}

	last := l.rungs[n-1].Price
	spacing := EffectiveSpacing(l.params.Diff, n)
	target := TargetPrice(last, spacing)
	intimation := IntimationPrice(last, spacing)
	l.logger.Debug("Ladder | rung levels",
		zap.Float64("last", last), zap.String("target", target.String()),
		zap.String("intimation", intimation.String()), zap.String("spacing", spacing.String()))

	if !decimalFromFloat(price).LessThan(intimation) {
		return nil
	}
	return l.enter(ctx, target.InexactFloat64(), l.quantity(n, rank))
}

// quantity sizes a rung given how many rungs are already held and the rank of
// the current price in the recent fill history.
func (l *Ladder) quantity(held, rank int) int {
	p := l.params
	zag := max(p.Zag, 1)
	q := p.Unit
	if held > 0 {
		q = held%zag + p.Unit
	}
	if p.FrequencyAware && rank > 1 {
		q = max(p.Unit, zag-rank+1)
	}
	return q
}

func (l *Ladder) enter(ctx context.Context, price float64, qty int) error {
	r := order.New(order.Spec{
		Account:    l.account,
		Instrument: l.instrument,
		SecurityID: l.securityID,
		Side:       l.params.Side,
		Quantity:   qty,
		Kind:       l.params.OrderKind,
		Product:    l.params.Product,
		Price:      price,
	}, l.env.Now())
	l.rungs = append(l.rungs, r)
	l.logger.Info("Ladder | adding rung", zap.String("record", r.ID()), zap.Float64("price", price),
		zap.Int("quantity", qty), zap.Int("depth", len(l.rungs)))
	return r.Submit(ctx, l.env)
}

func (l *Ladder) confirmAll(ctx context.Context) error {
	var errs []error
	for _, r := range l.rungs {
		if r.Terminal() {
			continue
		}
		if err := r.Poll(ctx, l.env); err != nil {
			l.logger.Warn("Ladder | rung poll failed", zap.String("record", r.ID()), zap.Error(err))
			errs = append(errs, err)
		}
		if r.State() == order.ExitTraded {
			l.roundTrip(r)
		}
	}
	return errors.Join(errs...)
}

func (l *Ladder) roundTrip(r *order.Record) {
	exit := r.Exit()
	l.logger.Info("Ladder | round trip completed", zap.String("record", r.ID()),
		zap.Float64("entry", r.Price), zap.Float64("exit", exit.Price), zap.Int("quantity", r.Quantity))
	msg := fmt.Sprintf("%s %s: %s %d @ %v closed @ %v", l.account, l.instrument, r.Side, r.Quantity, r.Price, exit.Price)
	if err := l.notifier.Send(msg); err != nil {
		l.logger.Warn("Ladder | notification failed", zap.Error(err))
	}
}

// prune drops the newest rung once it is closeable. Older closed rungs are
// dropped on later ticks as they become the newest.
func (l *Ladder) prune(ctx context.Context) {
	n := len(l.rungs)
	if n == 0 || !l.rungs[n-1].Closeable() {
		return
	}
	r := l.rungs[n-1]
	l.rungs = l.rungs[:n-1]
	l.logger.Info("Ladder | pruned rung", zap.String("record", r.ID()), zap.String("state", string(r.State())))
	if l.env.Journal == nil {
		return
	}
	err := l.env.Journal.LogEvent(ctx, journal.Event{
		Time:        l.env.Now(),
		Type:        "ladder",
		Description: "rung_pruned",
		Data: map[string]any{
			"record":     r.ID(),
			"state":      string(r.State()),
			"account":    l.account,
			"instrument": l.instrument,
		},
	})
	if err != nil {
		l.logger.Warn("Ladder | journal write failed", zap.Error(err))
	}
}
