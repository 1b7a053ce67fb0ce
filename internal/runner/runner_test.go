package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirphl/ladder-trader/internal/ladder"
	"github.com/amirphl/ladder-trader/internal/tfutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLadder struct {
	mu     sync.Mutex
	ticks  int
	params ladder.Params
	seen   []ladder.Params
	tickFn func(n int) error
}

func (f *fakeLadder) Tick(ctx context.Context) error {
	f.mu.Lock()
	f.ticks++
	n := f.ticks
	fn := f.tickFn
	f.mu.Unlock()
	if fn != nil {
		return fn(n)
	}
	return nil
}

func (f *fakeLadder) Params() ladder.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params
}

func (f *fakeLadder) SetParams(p ladder.Params) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = p
	f.seen = append(f.seen, p)
}

func (f *fakeLadder) Render() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []string{"rung"}
}

func (f *fakeLadder) tickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks
}

func (f *fakeLadder) lastSeen() ladder.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seen) == 0 {
		return ladder.Params{}
	}
	return f.seen[len(f.seen)-1]
}

type countingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *countingNotifier) Send(msg string) error { return n.SendWithRetry(msg) }

func (n *countingNotifier) SendWithRetry(msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

func newRunner(l *fakeLadder, mod func(*Config)) *Runner {
	if l.params == (ladder.Params{}) {
		l.params = ladder.DefaultParams()
	}
	cfg := Config{
		Owner:      "acc",
		Instrument: "TCS",
		Ladder:     l,
		Interval:   5 * time.Millisecond,
	}
	if mod != nil {
		mod(&cfg)
	}
	return New(cfg)
}

func waitDone(t *testing.T, r *Runner) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not exit")
	}
}

func TestRunnerTicksUntilStopped(t *testing.T) {
	l := &fakeLadder{}
	r := newRunner(l, nil)
	assert.Equal(t, Initialized, r.Status())

	r.Start(context.Background())
	require.Eventually(t, func() bool { return l.tickCount() >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, Running, r.Status())
	assert.True(t, r.Alive())

	r.Stop()
	waitDone(t, r)
	assert.Equal(t, Stopped, r.Status())
	assert.False(t, r.Alive())

	n := l.tickCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, l.tickCount())
}

func TestStopWakesLongSleep(t *testing.T) {
	l := &fakeLadder{}
	r := newRunner(l, func(c *Config) { c.Interval = time.Hour })
	r.Start(context.Background())
	require.Eventually(t, func() bool { return l.tickCount() == 1 }, time.Second, time.Millisecond)

	r.Stop()
	waitDone(t, r)
	assert.Equal(t, 1, l.tickCount())
}

func TestStopBeforeStart(t *testing.T) {
	r := newRunner(&fakeLadder{}, nil)
	r.Stop()
	waitDone(t, r)
	assert.Equal(t, Stopped, r.Status())

	r.Start(context.Background())
	assert.Equal(t, Stopped, r.Status())
}

func TestContextCancelStopsRunner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &fakeLadder{}
	r := newRunner(l, nil)
	r.Start(ctx)
	require.Eventually(t, func() bool { return l.tickCount() >= 1 }, time.Second, time.Millisecond)
	cancel()
	waitDone(t, r)
	assert.Equal(t, Stopped, r.Status())
}

func TestUpdateIsAppliedOnNextTick(t *testing.T) {
	l := &fakeLadder{}
	r := newRunner(l, nil)
	r.Start(context.Background())
	defer r.Stop()

	unit, zag := 4, 6
	got, err := r.Update(ladder.Patch{Unit: &unit, Zag: &zag})
	require.NoError(t, err)
	assert.Equal(t, 4, got.Unit)

	require.Eventually(t, func() bool {
		p := l.lastSeen()
		return p.Unit == 4 && p.Zag == 6
	}, time.Second, time.Millisecond)
	assert.Equal(t, 4, r.Snapshot().Params.Unit)
}

func TestUpdateRejectsInvalidParams(t *testing.T) {
	r := newRunner(&fakeLadder{}, nil)
	zero := 0
	_, err := r.Update(ladder.Patch{Zag: &zero})
	assert.ErrorIs(t, err, ladder.ErrInvalidParams)
	assert.Equal(t, 1, r.Snapshot().Params.Zag)
}

func TestPanicMovesToError(t *testing.T) {
	notes := &countingNotifier{}
	l := &fakeLadder{tickFn: func(n int) error {
		if n == 2 {
			panic("boom")
		}
		return nil
	}}
	r := newRunner(l, func(c *Config) { c.Notifier = notes })
	r.Start(context.Background())
	waitDone(t, r)

	snap := r.Snapshot()
	assert.Equal(t, Error, snap.Status)
	assert.Contains(t, snap.LastError, "boom")
	assert.False(t, r.Alive())
	assert.Equal(t, 2, l.tickCount())
	assert.Equal(t, 1, notes.count())
}

func TestConsecutiveErrorsReportErrorAndRecover(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	notes := &countingNotifier{}
	l := &fakeLadder{tickFn: func(int) error {
		if failing.Load() {
			return errors.New("broker down")
		}
		return nil
	}}
	r := newRunner(l, func(c *Config) {
		c.MaxTickErrors = 3
		c.Notifier = notes
	})
	r.Start(context.Background())
	defer func() {
		r.Stop()
		waitDone(t, r)
	}()

	require.Eventually(t, func() bool { return r.Status() == Error }, time.Second, time.Millisecond)
	assert.True(t, r.Alive())
	assert.Contains(t, r.Snapshot().LastError, "broker down")

	n := l.tickCount()
	require.Eventually(t, func() bool { return l.tickCount() >= n+3 }, time.Second, time.Millisecond)
	assert.Equal(t, Error, r.Status())
	assert.Equal(t, 1, notes.count(), "one notification per failing run")

	failing.Store(false)
	require.Eventually(t, func() bool { return r.Status() == Running }, time.Second, time.Millisecond)
	assert.Empty(t, r.Snapshot().LastError)
	require.Eventually(t, func() bool { return notes.count() == 2 }, time.Second, time.Millisecond)
}

func TestStopWhileFailing(t *testing.T) {
	l := &fakeLadder{tickFn: func(int) error { return errors.New("feed down") }}
	r := newRunner(l, func(c *Config) { c.MaxTickErrors = 1 })
	r.Start(context.Background())
	require.Eventually(t, func() bool { return r.Status() == Error }, time.Second, time.Millisecond)

	r.Stop()
	waitDone(t, r)
	assert.Equal(t, Stopped, r.Status())
}

func TestTickErrorsWithoutLimitKeepRunning(t *testing.T) {
	l := &fakeLadder{tickFn: func(int) error { return errors.New("flaky") }}
	r := newRunner(l, nil)
	r.Start(context.Background())
	require.Eventually(t, func() bool { return l.tickCount() >= 5 }, time.Second, time.Millisecond)
	assert.Equal(t, Running, r.Status())
	assert.Equal(t, "flaky", r.Snapshot().LastError)
	r.Stop()
	waitDone(t, r)
}

func TestClosedWindowDoesNotTick(t *testing.T) {
	clock := tfutils.NewManualClock(time.Date(2025, 3, 4, 18, 0, 0, 0, time.UTC))
	w := tfutils.Window{Open: 9*60 + 15, Close: 15*60 + 30, Location: time.UTC}
	l := &fakeLadder{}
	r := newRunner(l, func(c *Config) {
		c.Clock = clock
		c.Window = w
		c.Interval = time.Second
	})
	r.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, l.tickCount())

	r.Stop()
	waitDone(t, r)
	assert.Equal(t, 0, l.tickCount())
}

func TestSnapshot(t *testing.T) {
	l := &fakeLadder{}
	clock := tfutils.NewManualClock(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))
	r := newRunner(l, func(c *Config) { c.Clock = clock })
	r.Start(context.Background())
	require.Eventually(t, func() bool { return len(r.Snapshot().Rungs) == 1 }, time.Second, time.Millisecond)
	r.Stop()
	waitDone(t, r)

	snap := r.Snapshot()
	assert.Equal(t, r.ID(), snap.ID)
	assert.Equal(t, "acc", snap.Owner)
	assert.Equal(t, "TCS", snap.Instrument)
	assert.Equal(t, clock.Now(), snap.CreatedAt)
	assert.Equal(t, []string{"rung"}, snap.Rungs)
	assert.Empty(t, snap.LastError)
}
