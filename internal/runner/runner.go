// Package runner drives one ladder on its own goroutine at a fixed interval.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirphl/ladder-trader/internal/ladder"
	"github.com/amirphl/ladder-trader/internal/metrics"
	"github.com/amirphl/ladder-trader/internal/notifier"
	"github.com/amirphl/ladder-trader/internal/tfutils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Status string

const (
	Initialized Status = "initialized"
	Running     Status = "running"
	Stopping    Status = "stopping"
	Stopped     Status = "stopped"
	Error       Status = "error"
)

const DefaultInterval = 2 * time.Second

var errTickPanic = errors.New("tick panicked")

// Ladder is the part of *ladder.Ladder the runner drives.
type Ladder interface {
	Tick(ctx context.Context) error
	Params() ladder.Params
	SetParams(p ladder.Params)
	Render() []string
}

type Config struct {
	Owner      string
	Instrument string
	Ladder     Ladder
	Interval   time.Duration
	// Window gates ticking; the zero value means always open.
	Window tfutils.Window
	Clock  tfutils.Clock
	// MaxTickErrors consecutive failing ticks put the runner in error. It
	// keeps ticking and returns to running after the next clean tick. Zero
	// disables the limit. A panicking tick always halts the runner.
	MaxTickErrors int
	Notifier      notifier.Notifier
	Logger        *zap.Logger
}

// Snapshot is the externally visible state of a runner.
type Snapshot struct {
	ID         string        `json:"id"`
	Owner      string        `json:"owner"`
	Instrument string        `json:"instrument"`
	Status     Status        `json:"status"`
	Params     ladder.Params `json:"params"`
	CreatedAt  time.Time     `json:"created_at"`
	Rungs      []string      `json:"rungs"`
	LastError  string        `json:"last_error,omitempty"`
}

type Runner struct {
	id         string
	owner      string
	instrument string
	createdAt  time.Time

	ladder   Ladder
	interval time.Duration
	window   tfutils.Window
	clock    tfutils.Clock
	maxErrs  int
	notifier notifier.Notifier
	logger   *zap.Logger

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once

	mu       sync.Mutex
	status   Status
	params   ladder.Params
	rendered []string
	lastErr  error
}

func New(cfg Config) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = tfutils.RealClock{}
	}
	if cfg.Window.Close == 0 {
		cfg.Window = tfutils.AlwaysOpen
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	id := uuid.New().String()
	return &Runner{
		id:         id,
		owner:      cfg.Owner,
		instrument: cfg.Instrument,
		createdAt:  cfg.Clock.Now(),
		ladder:     cfg.Ladder,
		interval:   cfg.Interval,
		window:     cfg.Window,
		clock:      cfg.Clock,
		maxErrs:    cfg.MaxTickErrors,
		notifier:   cfg.Notifier,
		logger: cfg.Logger.With(zap.String("runner", id), zap.String("account", cfg.Owner),
			zap.String("instrument", cfg.Instrument)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		status: Initialized,
		params: cfg.Ladder.Params(),
	}
}

func (r *Runner) ID() string { return r.id }

// Start launches the tick loop. It returns immediately; calling it twice is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.status != Initialized {
		r.mu.Unlock()
		return
	}
	r.status = Running
	r.running.Store(true)
	r.mu.Unlock()
	go r.loop(ctx)
}

// Stop clears the run flag and wakes the loop if it is sleeping. A tick in
// progress is allowed to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	switch r.status {
	case Initialized:
		r.status = Stopped
		r.mu.Unlock()
		r.closeDone()
		return
	case Running, Error:
		r.status = Stopping
	}
	r.mu.Unlock()
	r.running.Store(false)
	r.stopOnce.Do(func() { close(r.stop) })
}

// Done is closed once the loop has exited.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Alive reports whether the loop has not exited yet.
func (r *Runner) Alive() bool {
	select {
	case <-r.done:
		return false
	default:
	}
	return r.Status() != Stopped
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Update merges patch into the parameters the next tick will use.
func (r *Runner) Update(patch ladder.Patch) (ladder.Params, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.params.Apply(patch)
	if err := next.Validate(); err != nil {
		return r.params, err
	}
	r.params = next
	r.logger.Info("Runner | params updated", zap.Any("params", next))
	return next, nil
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		ID:         r.id,
		Owner:      r.owner,
		Instrument: r.instrument,
		Status:     r.status,
		Params:     r.params,
		CreatedAt:  r.createdAt,
		Rungs:      append([]string{}, r.rendered...),
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

func (r *Runner) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Runner) closeDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *Runner) loop(ctx context.Context) {
	metrics.RunnersActive.Inc()
	defer metrics.RunnersActive.Dec()
	defer r.closeDone()

	r.logger.Info("Runner | started", zap.Duration("interval", r.interval))
	consecutive := 0
	for r.running.Load() {
		if ctx.Err() != nil {
			break
		}
		now := r.clock.Now()
		if !r.window.Contains(now) {
			wait := min(r.window.UntilOpen(now), r.interval)
			r.logger.Debug("Runner | market closed", zap.Duration("wait", wait))
			r.sleep(ctx, wait)
			continue
		}

		err := r.tick(ctx)
		if errors.Is(err, errTickPanic) {
			r.fail(err)
			return
		}
		if err != nil {
			consecutive++
			metrics.TickErrors.Inc()
			r.logger.Warn("Runner | tick failed", zap.Int("consecutive", consecutive), zap.Error(err))
			if r.maxErrs > 0 && consecutive == r.maxErrs {
				r.degrade(fmt.Errorf("%d consecutive failing ticks: %w", consecutive, err))
			}
		} else {
			if consecutive > 0 {
				r.resume()
			}
			consecutive = 0
		}
		r.sleep(ctx, r.interval)
	}

	r.setStatus(Stopped)
	r.logger.Info("Runner | stopped")
}

// tick re-applies the latest params, runs one ladder tick and caches the
// rendered rungs for snapshots.
func (r *Runner) tick(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", errTickPanic, rec)
		}
	}()

	r.mu.Lock()
	p := r.params
	r.mu.Unlock()
	r.ladder.SetParams(p)

	err = r.ladder.Tick(ctx)
	rendered := r.ladder.Render()

	r.mu.Lock()
	r.rendered = rendered
	r.lastErr = err
	r.mu.Unlock()
	return err
}

// degrade reports a run of failing ticks; the loop keeps ticking.
func (r *Runner) degrade(err error) {
	r.mu.Lock()
	if r.status != Running {
		r.mu.Unlock()
		return
	}
	r.status = Error
	r.lastErr = err
	r.mu.Unlock()
	r.logger.Error("Runner | ticks failing", zap.Error(err))
	r.notify(fmt.Sprintf("ladder %s %s failing: %v", r.owner, r.instrument, err))
}

func (r *Runner) resume() {
	r.mu.Lock()
	if r.status != Error {
		r.mu.Unlock()
		return
	}
	r.status = Running
	r.mu.Unlock()
	r.logger.Info("Runner | recovered")
	r.notify(fmt.Sprintf("ladder %s %s recovered", r.owner, r.instrument))
}

func (r *Runner) notify(msg string) {
	if err := r.notifier.SendWithRetry(msg); err != nil {
		r.logger.Warn("Runner | notification failed", zap.Error(err))
	}
}

// fail halts the loop for good.
func (r *Runner) fail(err error) {
	r.mu.Lock()
	r.status = Error
	r.lastErr = err
	r.mu.Unlock()
	r.running.Store(false)
	r.logger.Error("Runner | halted", zap.Error(err))
	r.notify(fmt.Sprintf("ladder %s %s halted: %v", r.owner, r.instrument, err))
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-r.stop:
	case <-r.clock.After(d):
	}
}
