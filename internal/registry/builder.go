package registry

import (
	"github.com/amirphl/ladder-trader/internal/instrument"
	"github.com/amirphl/ladder-trader/internal/ladder"
	"github.com/amirphl/ladder-trader/internal/market"
	"github.com/amirphl/ladder-trader/internal/notifier"
	"github.com/amirphl/ladder-trader/internal/order"
	"github.com/amirphl/ladder-trader/internal/pricehistory"
	"github.com/amirphl/ladder-trader/internal/runner"
	"go.uber.org/zap"
)

// PriceSubscriber is told which securities have a live ladder.
type PriceSubscriber interface {
	Register(securityID string)
	Unregister(securityID string)
}

// Builder wires a fresh ladder and runner from the shared collaborators.
type Builder struct {
	Resolver instrument.Resolver
	Prices   market.PriceFeed
	// Subscriber is optional.
	Subscriber PriceSubscriber
	// Env is copied into every ladder.
	Env order.Env
	// Runner supplies interval, window, clock and error limits; Ladder,
	// Owner and Instrument are filled in per build.
	Runner   runner.Config
	Notifier notifier.Notifier
	Logger   *zap.Logger
}

func (b *Builder) Build(account, symbol string, p ladder.Params) (*runner.Runner, error) {
	sid, err := b.Resolver.SecurityID(symbol)
	if err != nil {
		return nil, err
	}
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	env := b.Env
	env.Logger = logger
	l := ladder.New(ladder.Config{
		Account:    account,
		Instrument: symbol,
		SecurityID: sid,
		Params:     p,
		Prices:     b.Prices,
		History:    pricehistory.New(),
		Env:        &env,
		Notifier:   b.Notifier,
	})

	cfg := b.Runner
	cfg.Owner = account
	cfg.Instrument = symbol
	cfg.Ladder = l
	cfg.Notifier = b.Notifier
	cfg.Logger = logger
	run := runner.New(cfg)

	if b.Subscriber != nil {
		b.Subscriber.Register(sid)
		go func() {
			<-run.Done()
			b.Subscriber.Unregister(sid)
		}()
	}
	logger.Debug("Registry | built ladder", zap.String("account", account), zap.String("instrument", symbol),
		zap.String("security_id", sid), zap.String("runner", run.ID()))
	return run, nil
}

var _ Factory = (*Builder)(nil)
