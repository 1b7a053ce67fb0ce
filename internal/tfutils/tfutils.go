// Package tfutils holds the time helpers shared by runners and the registry:
// an injectable clock, the trading-day key and the market-hours window.
package tfutils

import (
	"fmt"
	"sync"
	"time"
)

// Clock abstracts wall-clock access so ladders can be driven deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ManualClock only moves when Advance or Set is called. After channels fire
// once the clock has been advanced past their deadline.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []manualWaiter
}

type manualWaiter struct {
	at time.Time
	ch chan time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := c.now.Add(d)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, manualWaiter{at: at, ch: ch})
	return ch
}

func (c *ManualClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(t) {
			w.ch <- t
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
}

// DayKey returns the trading-day component of a registry key.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Window is a daily [Open, Close) span expressed in minutes past midnight
// in Location.
type Window struct {
	Open     int
	Close    int
	Location *time.Location
}

// AlwaysOpen is used when no market hours are configured.
var AlwaysOpen = Window{Open: 0, Close: 24 * 60}

// ParseWindow builds a window from "HH:MM" strings and an IANA zone name.
func ParseWindow(open, close, zone string) (Window, error) {
	o, err := parseClock(open)
	if err != nil {
		return Window{}, fmt.Errorf("market open: %w", err)
	}
	c, err := parseClock(close)
	if err != nil {
		return Window{}, fmt.Errorf("market close: %w", err)
	}
	if c <= o {
		return Window{}, fmt.Errorf("market close %s must be after open %s", close, open)
	}
	loc := time.Local
	if zone != "" {
		loc, err = time.LoadLocation(zone)
		if err != nil {
			return Window{}, fmt.Errorf("timezone %q: %w", zone, err)
		}
	}
	return Window{Open: o, Close: c, Location: loc}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// MinutesOfDay mirrors the "minutes since midnight" gate used by the window.
func MinutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func (w Window) Contains(t time.Time) bool {
	if w.Location != nil {
		t = t.In(w.Location)
	}
	m := MinutesOfDay(t)
	return m >= w.Open && m < w.Close
}

// UntilOpen returns how long until the window next opens, or zero while open.
func (w Window) UntilOpen(t time.Time) time.Duration {
	if w.Contains(t) {
		return 0
	}
	if w.Location != nil {
		t = t.In(w.Location)
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), w.Open/60, w.Open%60, 0, 0, t.Location())
	if !open.After(t) {
		open = open.AddDate(0, 0, 1)
	}
	return open.Sub(t)
}
