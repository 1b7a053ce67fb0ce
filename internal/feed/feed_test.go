package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirphl/ladder-trader/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	mu       sync.Mutex
	statuses map[string]market.Status
	prices   map[string]float64
	fail     map[string]bool
}

func (s *stubSource) OrderStatus(ctx context.Context, id string) (market.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[id] {
		return "", errors.New("timeout")
	}
	return s.statuses[id], nil
}

func (s *stubSource) LastTick(ctx context.Context, sid string) (market.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[sid] {
		return market.Tick{}, errors.New("timeout")
	}
	return market.Tick{SecurityID: sid, Price: s.prices[sid]}, nil
}

func (s *stubSource) set(id string, st market.Status) {
	s.mu.Lock()
	s.statuses[id] = st
	s.mu.Unlock()
}

func newStub() *stubSource {
	return &stubSource{
		statuses: map[string]market.Status{},
		prices:   map[string]float64{},
		fail:     map[string]bool{},
	}
}

func TestStatusPollerWritesAndForgets(t *testing.T) {
	ctx := context.Background()
	src := newStub()
	cache := market.NewMemoryCache()
	p := NewStatusPoller(src, cache, time.Second, nil)

	p.Watch("a")
	p.Watch("b")
	p.Watch("c")
	p.Watch("")
	src.set("a", market.StatusPending)
	src.set("b", market.StatusTraded)
	src.fail["c"] = true

	p.PollOnce(ctx)
	assert.Equal(t, []string{"a", "c"}, p.Watching())

	st, ok, err := cache.Status(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, market.StatusPending, st)

	st, ok, _ = cache.Status(ctx, "b")
	assert.True(t, ok)
	assert.Equal(t, market.StatusTraded, st)

	_, ok, _ = cache.Status(ctx, "c")
	assert.False(t, ok)

	src.set("a", market.StatusCancelled)
	p.PollOnce(ctx)
	assert.Equal(t, []string{"c"}, p.Watching())
	st, _, _ = cache.Status(ctx, "a")
	assert.Equal(t, market.StatusCancelled, st)
}

func TestStatusPollerSkipsUnknown(t *testing.T) {
	ctx := context.Background()
	cache := market.NewMemoryCache()
	p := NewStatusPoller(newStub(), cache, time.Second, nil)
	p.Watch("x")
	p.PollOnce(ctx)
	_, ok, _ := cache.Status(ctx, "x")
	assert.False(t, ok)
	assert.Equal(t, []string{"x"}, p.Watching())
}

func TestStatusPollerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := newStub()
	cache := market.NewMemoryCache()
	p := NewStatusPoller(src, cache, 2*time.Millisecond, nil)
	p.Watch("a")
	src.set("a", market.StatusTraded)

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(p.Watching()) == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestPricePoller(t *testing.T) {
	ctx := context.Background()
	src := newStub()
	src.prices["11536"] = 523.4
	src.fail["9"] = true
	cache := market.NewMemoryCache()
	p := NewPricePoller(src, cache, time.Second, nil)

	p.Register("11536")
	p.Register("11536")
	p.Register("9")
	p.Register("0")
	p.PollOnce(ctx)

	got, ok, err := cache.LastPrice(ctx, "11536")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 523.4, got)
	_, ok, _ = cache.LastPrice(ctx, "9")
	assert.False(t, ok)
	_, ok, _ = cache.LastPrice(ctx, "0")
	assert.False(t, ok, "zero price is not published")

	p.Unregister("11536")
	assert.Equal(t, []string{"0", "11536", "9"}, p.Securities())
	p.Unregister("11536")
	assert.Equal(t, []string{"0", "9"}, p.Securities())
}

type closingCache struct {
	*market.MemoryCache
	closed     atomic.Bool
	lateWrites atomic.Int32
}

func (c *closingCache) SetStatus(ctx context.Context, id string, s market.Status) error {
	if c.closed.Load() {
		c.lateWrites.Add(1)
	}
	return c.MemoryCache.SetStatus(ctx, id, s)
}

func (c *closingCache) SetPrice(ctx context.Context, sid string, price float64) error {
	if c.closed.Load() {
		c.lateWrites.Add(1)
	}
	return c.MemoryCache.SetPrice(ctx, sid, price)
}

func TestStartWaitsForPollersBeforeClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := newStub()
	src.prices["11536"] = 500
	src.set("a", market.StatusPending)
	cache := &closingCache{MemoryCache: market.NewMemoryCache()}

	statuses := NewStatusPoller(src, cache, time.Millisecond, nil)
	statuses.Watch("a")
	prices := NewPricePoller(src, cache, time.Millisecond, nil)
	prices.Register("11536")

	wg := Start(ctx, statuses, prices)
	require.Eventually(t, func() bool {
		_, ok, _ := cache.LastPrice(context.Background(), "11536")
		_, seen, _ := cache.Status(context.Background(), "a")
		return ok && seen
	}, time.Second, time.Millisecond)

	cancel()
	wg.Wait()
	cache.closed.Store(true)
	require.NoError(t, cache.Close())

	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, cache.lateWrites.Load())
}
