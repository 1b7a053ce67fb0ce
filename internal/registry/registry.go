// Package registry holds at most one live ladder runner per account,
// instrument and trading day.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/amirphl/ladder-trader/internal/ladder"
	"github.com/amirphl/ladder-trader/internal/runner"
	"github.com/amirphl/ladder-trader/internal/tfutils"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("already_running")
	ErrNotFound       = errors.New("not_found")
)

type Key struct {
	Account    string
	Instrument string
	Day        string
}

func (k Key) String() string {
	return k.Account + "/" + k.Instrument + "/" + k.Day
}

// Factory builds a runner that has not been started yet.
type Factory interface {
	Build(account, instrument string, p ladder.Params) (*runner.Runner, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(account, instrument string, p ladder.Params) (*runner.Runner, error)

func (f FactoryFunc) Build(account, instrument string, p ladder.Params) (*runner.Runner, error) {
	return f(account, instrument, p)
}

type entry struct {
	key    Key
	runner *runner.Runner
}

// Registry serializes start, stop, update and lookups behind one mutex.
// Runner loops never take it.
type Registry struct {
	ctx     context.Context
	factory Factory
	clock   tfutils.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[Key]*entry
}

// New returns a registry whose runners live until ctx is cancelled or they
// are stopped.
func New(ctx context.Context, factory Factory, clock tfutils.Clock, logger *zap.Logger) *Registry {
	if clock == nil {
		clock = tfutils.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		ctx:     ctx,
		factory: factory,
		clock:   clock,
		logger:  logger.Named("registry"),
		entries: make(map[Key]*entry),
	}
}

func (r *Registry) key(account, instrument string) Key {
	return Key{
		Account:    strings.TrimSpace(account),
		Instrument: strings.ToUpper(strings.TrimSpace(instrument)),
		Day:        tfutils.DayKey(r.clock.Now()),
	}
}

// Start creates and starts a runner for today's key.
func (r *Registry) Start(account, instrument string, p ladder.Params) (runner.Snapshot, error) {
	if err := p.Validate(); err != nil {
		return runner.Snapshot{}, err
	}
	k := r.key(account, instrument)
	if k.Account == "" || k.Instrument == "" {
		return runner.Snapshot{}, fmt.Errorf("%w: account and instrument are required", ladder.ErrInvalidParams)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[k]; ok && e.runner.Alive() {
		return e.runner.Snapshot(), ErrAlreadyRunning
	}

	run, err := r.factory.Build(k.Account, k.Instrument, p)
	if err != nil {
		return runner.Snapshot{}, fmt.Errorf("build runner %s: %w", k, err)
	}
	run.Start(r.ctx)
	r.entries[k] = &entry{key: k, runner: run}
	r.logger.Info("Registry | ladder started", zap.String("key", k.String()), zap.String("runner", run.ID()))
	return run.Snapshot(), nil
}

func (r *Registry) live(account, instrument string) (*runner.Runner, error) {
	e, ok := r.entries[r.key(account, instrument)]
	if !ok || !e.runner.Alive() {
		return nil, ErrNotFound
	}
	return e.runner, nil
}

// Stop signals today's runner for the pair. It does not wait for the loop to exit.
func (r *Registry) Stop(account, instrument string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.live(account, instrument)
	if err != nil {
		return err
	}
	run.Stop()
	r.logger.Info("Registry | ladder stop requested", zap.String("key", r.key(account, instrument).String()))
	return nil
}

func (r *Registry) Update(account, instrument string, patch ladder.Patch) (ladder.Params, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.live(account, instrument)
	if err != nil {
		return ladder.Params{}, err
	}
	return run.Update(patch)
}

// Status returns the snapshot of today's runner for the pair, live or not.
func (r *Registry) Status(account, instrument string) (runner.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[r.key(account, instrument)]
	if !ok {
		return runner.Snapshot{}, ErrNotFound
	}
	return e.runner.Snapshot(), nil
}

// List returns every registered runner, ordered by day, account and instrument.
func (r *Registry) List() []runner.Snapshot {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].key, entries[j].key
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		return a.Instrument < b.Instrument
	})
	out := make([]runner.Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.runner.Snapshot())
	}
	return out
}

// StopAll stops every live runner and waits for their loops to exit or ctx to end.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	var runs []*runner.Runner
	for _, e := range r.entries {
		if e.runner.Alive() {
			e.runner.Stop()
			runs = append(runs, e.runner)
		}
	}
	r.mu.Unlock()

	for _, run := range runs {
		select {
		case <-run.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
