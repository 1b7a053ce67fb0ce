// Package feed keeps the shared order-status and price caches fresh by
// polling the exchange. Ladders only ever read those caches.
package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/ladder-trader/internal/exchange"
	"github.com/amirphl/ladder-trader/internal/market"
	"go.uber.org/zap"
)

// StatusPoller follows every broker order id it is told about until the
// exchange reports it TRADED or CANCELLED.
type StatusPoller struct {
	source   exchange.StatusSource
	cache    market.StatusWriter
	interval time.Duration
	logger   *zap.Logger

	mu  sync.Mutex
	ids map[string]struct{}
}

func NewStatusPoller(source exchange.StatusSource, cache market.StatusWriter, interval time.Duration, logger *zap.Logger) *StatusPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusPoller{
		source:   source,
		cache:    cache,
		interval: interval,
		logger:   logger.Named("status-feed"),
		ids:      make(map[string]struct{}),
	}
}

// Watch starts following id. It is safe to call from any goroutine.
func (p *StatusPoller) Watch(id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	p.ids[id] = struct{}{}
	p.mu.Unlock()
}

// Watching returns the ids still being followed, sorted.
func (p *StatusPoller) Watching() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.ids))
	for id := range p.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *StatusPoller) forget(id string) {
	p.mu.Lock()
	delete(p.ids, id)
	p.mu.Unlock()
}

// Run polls until ctx is done.
func (p *StatusPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("StatusPoller | started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("StatusPoller | stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce fetches the status of every followed id and writes it to the
// cache. Terminal ids are dropped afterwards.
func (p *StatusPoller) PollOnce(ctx context.Context) {
	ids := p.Watching()
	if len(ids) == 0 {
		return
	}
	p.logger.Debug("StatusPoller | checking orders", zap.Int("count", len(ids)))

	for _, id := range ids {
		status, err := p.source.OrderStatus(ctx, id)
		if err != nil {
			p.logger.Warn("StatusPoller | status fetch failed", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if status == "" {
			continue
		}
		if err := p.cache.SetStatus(ctx, id, status); err != nil {
			p.logger.Warn("StatusPoller | cache write failed", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if status.Terminal() {
			p.logger.Info("StatusPoller | order settled", zap.String("order_id", id), zap.String("status", string(status)))
			p.forget(id)
		}
	}
}

// PricePoller refreshes the last traded price of every registered security.
type PricePoller struct {
	source   exchange.PriceSource
	cache    market.PriceWriter
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	refs map[string]int
}

func NewPricePoller(source exchange.PriceSource, cache market.PriceWriter, interval time.Duration, logger *zap.Logger) *PricePoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PricePoller{
		source:   source,
		cache:    cache,
		interval: interval,
		logger:   logger.Named("price-feed"),
		refs:     make(map[string]int),
	}
}

// Register adds a reference to securityID. Several ladders may share one security.
func (p *PricePoller) Register(securityID string) {
	p.mu.Lock()
	p.refs[securityID]++
	p.mu.Unlock()
}

// Unregister drops one reference; the security stops being polled at zero.
func (p *PricePoller) Unregister(securityID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs[securityID] <= 1 {
		delete(p.refs, securityID)
		return
	}
	p.refs[securityID]--
}

func (p *PricePoller) Securities() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.refs))
	for sid := range p.refs {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

func (p *PricePoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("PricePoller | started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("PricePoller | stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

func (p *PricePoller) PollOnce(ctx context.Context) {
	for _, sid := range p.Securities() {
		tick, err := p.source.LastTick(ctx, sid)
		if err != nil {
			p.logger.Warn("PricePoller | price fetch failed", zap.String("security_id", sid), zap.Error(err))
			continue
		}
		if tick.Price <= 0 {
			continue
		}
		if err := p.cache.SetPrice(ctx, sid, tick.Price); err != nil {
			p.logger.Warn("PricePoller | cache write failed", zap.String("security_id", sid), zap.Error(err))
		}
	}
}

// Poller is a loop that runs until its context is done.
type Poller interface {
	Run(ctx context.Context)
}

// Start runs each poller on its own goroutine. The returned group is done
// once every poller has returned; wait on it before closing the cache the
// pollers write to.
func Start(ctx context.Context, pollers ...Poller) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, p := range pollers {
		wg.Add(1)
		go func(p Poller) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	return &wg
}
