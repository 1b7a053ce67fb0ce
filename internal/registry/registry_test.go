package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/ladder-trader/internal/instrument"
	"github.com/amirphl/ladder-trader/internal/ladder"
	"github.com/amirphl/ladder-trader/internal/market"
	"github.com/amirphl/ladder-trader/internal/order"
	"github.com/amirphl/ladder-trader/internal/runner"
	"github.com/amirphl/ladder-trader/internal/tfutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subscriber struct {
	mu   sync.Mutex
	refs map[string]int
}

func (s *subscriber) Register(sid string) {
	s.mu.Lock()
	s.refs[sid]++
	s.mu.Unlock()
}

func (s *subscriber) Unregister(sid string) {
	s.mu.Lock()
	s.refs[sid]--
	s.mu.Unlock()
}

func (s *subscriber) count(sid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[sid]
}

type fixture struct {
	reg   *Registry
	clock *tfutils.ManualClock
	subs  *subscriber
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := tfutils.NewManualClock(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))
	cache := market.NewMemoryCache()
	subs := &subscriber{refs: map[string]int{}}
	b := &Builder{
		Resolver:   instrument.NewTable(map[string]string{"TCS": "11536", "INFY": "1594"}),
		Prices:     cache,
		Subscriber: subs,
		Env:        order.Env{Statuses: cache, Clock: clock},
		Runner:     runner.Config{Interval: time.Hour, Clock: clock},
	}
	return &fixture{reg: New(ctx, b, clock, nil), clock: clock, subs: subs}
}

func waitStopped(t *testing.T, r *Registry, account, instrument string) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := r.Status(account, instrument)
		return err == nil && s.Status == runner.Stopped
	}, time.Second, time.Millisecond)
}

func TestStartTwiceSameDay(t *testing.T) {
	f := newFixture(t)
	snap, err := f.reg.Start("A", "TCS", ladder.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, runner.Running, snap.Status)
	assert.Equal(t, "A", snap.Owner)
	assert.Equal(t, "TCS", snap.Instrument)

	again, err := f.reg.Start("A", "tcs", ladder.DefaultParams())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, snap.ID, again.ID)

	_, err = f.reg.Start("B", "TCS", ladder.DefaultParams())
	assert.NoError(t, err)
	_, err = f.reg.Start("A", "INFY", ladder.DefaultParams())
	assert.NoError(t, err)
	assert.Len(t, f.reg.List(), 3)
}

func TestStartRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	p := ladder.DefaultParams()
	p.Unit = 0
	_, err := f.reg.Start("A", "TCS", p)
	assert.ErrorIs(t, err, ladder.ErrInvalidParams)

	_, err = f.reg.Start("", "TCS", ladder.DefaultParams())
	assert.ErrorIs(t, err, ladder.ErrInvalidParams)

	_, err = f.reg.Start("A", "UNKNOWN", ladder.DefaultParams())
	assert.ErrorIs(t, err, instrument.ErrUnknownSymbol)
	assert.Empty(t, f.reg.List())
}

func TestStopAndRestart(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.reg.Stop("A", "TCS"), ErrNotFound)

	first, err := f.reg.Start("A", "TCS", ladder.DefaultParams())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.subs.count("11536") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.reg.Stop("A", "TCS"))
	waitStopped(t, f.reg, "A", "TCS")
	require.Eventually(t, func() bool { return f.subs.count("11536") == 0 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, f.reg.Stop("A", "TCS"), ErrNotFound)
	_, err = f.reg.Update("A", "TCS", ladder.Patch{})
	assert.ErrorIs(t, err, ErrNotFound)

	second, err := f.reg.Start("A", "TCS", ladder.DefaultParams())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Start("A", "TCS", ladder.DefaultParams())
	require.NoError(t, err)

	diff := 1.5
	p, err := f.reg.Update("A", "TCS", ladder.Patch{Diff: &diff})
	require.NoError(t, err)
	assert.Equal(t, 1.5, p.Diff)

	snap, err := f.reg.Status("A", "TCS")
	require.NoError(t, err)
	assert.Equal(t, 1.5, snap.Params.Diff)

	neg := -1.0
	_, err = f.reg.Update("A", "TCS", ladder.Patch{Diff: &neg})
	assert.ErrorIs(t, err, ladder.ErrInvalidParams)

	_, err = f.reg.Update("A", "INFY", ladder.Patch{Diff: &diff})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Status("A", "TCS")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyIncludesDay(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Start("A", "TCS", ladder.DefaultParams())
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.reg.Start("A", "TCS", ladder.DefaultParams())
	require.NoError(t, err)

	list := f.reg.List()
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.Before(list[1].CreatedAt))
}

func TestConcurrentStart(t *testing.T) {
	f := newFixture(t)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
		dup     int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.reg.Start("A", "TCS", ladder.DefaultParams())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case assert.ErrorIs(t, err, ErrAlreadyRunning):
				dup++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, started)
	assert.Equal(t, 19, dup)
}

func TestStopAll(t *testing.T) {
	f := newFixture(t)
	for _, inst := range []string{"TCS", "INFY"} {
		_, err := f.reg.Start("A", inst, ladder.DefaultParams())
		require.NoError(t, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.reg.StopAll(ctx))
	for _, s := range f.reg.List() {
		assert.Equal(t, runner.Stopped, s.Status)
	}
}

func TestFactoryFunc(t *testing.T) {
	called := false
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fac := FactoryFunc(func(account, inst string, p ladder.Params) (*runner.Runner, error) {
		called = true
		return (&Builder{Resolver: instrument.Identity{}, Prices: market.NewMemoryCache(),
			Runner: runner.Config{Interval: time.Hour}}).Build(account, inst, p)
	})
	reg := New(ctx, fac, nil, nil)
	_, err := reg.Start("A", "btc-usdt", ladder.DefaultParams())
	require.NoError(t, err)
	assert.True(t, called)
	require.NoError(t, reg.Stop("A", "BTC-USDT"))
}
