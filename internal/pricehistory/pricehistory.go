// Package pricehistory keeps the bounded record of recently traded rung
// prices and ranks a price by how often it repeated in the recent window.
package pricehistory

import (
	"math"
	"sync"
)

const (
	// Capacity is the ring size; the oldest entry is overwritten once full.
	Capacity = 1000
	// Window is how many of the most recent entries Rank looks at.
	Window = 60
	// MinSamples is the smallest history that produces a signal.
	MinSamples = 30
	// NoRank is returned when there is no signal or the price is absent.
	NoRank = -1
)

// Tracker is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	buf   []float64
	start int
	size  int
}

func New() *Tracker {
	return &Tracker{buf: make([]float64, Capacity)}
}

// RoundToNearestHalf floors values above 1000 to an integer and floors the
// rest to a 0.5 step.
func RoundToNearestHalf(x float64) float64 {
	if x > 1000 {
		return math.Floor(x)
	}
	return math.Floor(x*2) / 2
}

// Record appends the rounded price.
func (t *Tracker) Record(price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := RoundToNearestHalf(price)
	if t.size < len(t.buf) {
		t.buf[(t.start+t.size)%len(t.buf)] = p
		t.size++
		return
	}
	t.buf[t.start] = p
	t.start = (t.start + 1) % len(t.buf)
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Recent returns up to n of the newest entries, oldest first.
func (t *Tracker) Recent(n int) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recent(n)
}

func (t *Tracker) recent(n int) []float64 {
	if n > t.size {
		n = t.size
	}
	out := make([]float64, n)
	first := t.start + t.size - n
	for i := range n {
		out[i] = t.buf[(first+i)%len(t.buf)]
	}
	return out
}

// Rank returns the 1-based position of price among the value groups of the
// recent window ordered by descending frequency, ties kept in order of first
// appearance, together with its frequency. It returns (NoRank, 0) when fewer
// than MinSamples entries exist or the price is not in the window.
func (t *Tracker) Rank(price float64) (int, int) {
	t.mu.Lock()
	window := t.recent(Window)
	t.mu.Unlock()

	if len(window) < MinSamples {
		return NoRank, 0
	}

	type group struct {
		value float64
		count int
	}
	var groups []group
	index := make(map[float64]int)
	for _, v := range window {
		if i, ok := index[v]; ok {
			groups[i].count++
			continue
		}
		index[v] = len(groups)
		groups = append(groups, group{value: v, count: 1})
	}

	target, ok := index[price]
	if !ok {
		return NoRank, 0
	}
	// Rank = 1 + groups strictly more frequent + equally frequent groups seen earlier.
	rank := 1
	for i, g := range groups {
		if g.count > groups[target].count || (g.count == groups[target].count && i < target) {
			rank++
		}
	}
	return rank, groups[target].count
}
