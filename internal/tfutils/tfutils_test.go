package tfutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("09:15", "15:30", "UTC")
	require.NoError(t, err)
	assert.Equal(t, 555, w.Open)
	assert.Equal(t, 930, w.Close)

	_, err = ParseWindow("15:30", "09:15", "UTC")
	assert.Error(t, err)
	_, err = ParseWindow("9am", "15:30", "UTC")
	assert.Error(t, err)
	_, err = ParseWindow("09:15", "15:30", "Nowhere/City")
	assert.Error(t, err)
}

func TestWindowContains(t *testing.T) {
	w, err := ParseWindow("09:15", "15:30", "UTC")
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2025, 1, 2, 9, 14, 59, 0, time.UTC), false},
		{"at open", time.Date(2025, 1, 2, 9, 15, 0, 0, time.UTC), true},
		{"midday", time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC), true},
		{"at close", time.Date(2025, 1, 2, 15, 30, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Contains(tt.at))
		})
	}
	assert.True(t, AlwaysOpen.Contains(time.Date(2025, 1, 2, 23, 59, 0, 0, time.UTC)))
}

func TestWindowUntilOpen(t *testing.T) {
	w, err := ParseWindow("09:15", "15:30", "UTC")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, w.UntilOpen(time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Duration(0), w.UntilOpen(time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, 17*time.Hour+45*time.Minute, w.UntilOpen(time.Date(2025, 1, 2, 15, 30, 0, 0, time.UTC)))
}

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 1, 2, 9, 15, 0, 0, time.UTC)
	c := NewManualClock(start)
	ch := c.After(2 * time.Second)

	c.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, start.Add(2*time.Second), got)
	default:
		t.Fatal("did not fire")
	}
	assert.Equal(t, "2025-01-02", DayKey(c.Now()))
}
