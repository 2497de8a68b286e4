package system

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestClockNeverRepeatsOrGoesBackwards(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	readings := []time.Time{base, base, base.Add(-time.Hour), base.Add(time.Second)}
	i := 0
	clk := &Clock{source: func() time.Time {
		r := readings[i]
		i++
		return r
	}}

	assert.Equal(t, base, clk.Now())
	assert.Equal(t, base.Add(time.Nanosecond), clk.Now())
	assert.Equal(t, base.Add(2*time.Nanosecond), clk.Now())
	assert.Equal(t, base.Add(time.Second), clk.Now())
}

func TestClockConcurrentReadingsAreUnique(t *testing.T) {
	t.Parallel()

	frozen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	clk := &Clock{source: func() time.Time { return frozen }}

	const n = 200
	var (
		mu   sync.Mutex
		seen = make(map[time.Time]struct{}, n)
		wg   sync.WaitGroup
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := clk.Now()
			mu.Lock()
			seen[ts] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, n)
}
