// Package system provides the wall clock used to stamp artifacts.
package system

import (
	"sync"
	"time"
)

// Clock implements frame.Clock using the wall clock in UTC.
// Successive readings strictly increase, so artifact names keep arrival order
// even if the host clock steps backwards.
type Clock struct {
	source func() time.Time

	mu   sync.Mutex
	last time.Time
}

// New creates a new Clock.
func New() *Clock {
	return &Clock{source: time.Now}
}

// Now returns the current UTC time, or one nanosecond past the previous reading if the wall clock has not advanced.
func (c *Clock) Now() time.Time {
	now := c.source().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}
