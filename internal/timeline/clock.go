// Package timeline keeps the recording timeline: a pausable clock and
// the mapping of capture timestamps onto it.
package timeline

import (
	"sync"
	"time"
)

type TimeSource func() time.Time

// Clock measures recording time excluding paused intervals.
type Clock struct {
	locker      sync.Mutex
	now         TimeSource
	startedAt   time.Time
	started     bool
	pausedAt    time.Time
	paused      bool
	pausedTotal time.Duration
	stoppedAt   time.Time
	stopped     bool
}

func NewClock(now TimeSource) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Start() {
	c.locker.Lock()
	defer c.locker.Unlock()
	if c.started {
		return
	}
	c.startedAt = c.now()
	c.started = true
}

// Pause returns false if the clock is already paused or not running.
func (c *Clock) Pause() bool {
	c.locker.Lock()
	defer c.locker.Unlock()
	if !c.started || c.stopped || c.paused {
		return false
	}
	c.pausedAt = c.now()
	c.paused = true
	return true
}

// Resume returns false if the clock is not paused.
func (c *Clock) Resume() bool {
	c.locker.Lock()
	defer c.locker.Unlock()
	if !c.paused || c.stopped {
		return false
	}
	c.pausedTotal += c.now().Sub(c.pausedAt)
	c.paused = false
	return true
}

// Stop freezes the clock.
func (c *Clock) Stop() {
	c.locker.Lock()
	defer c.locker.Unlock()
	if c.stopped || !c.started {
		return
	}
	now := c.now()
	if c.paused {
		c.pausedTotal += now.Sub(c.pausedAt)
		c.paused = false
	}
	c.stoppedAt = now
	c.stopped = true
}

func (c *Clock) IsPaused() bool {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.paused
}

// Elapsed returns the recording duration so far (paused time excluded).
func (c *Clock) Elapsed() time.Duration {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.elapsedLocked()
}

func (c *Clock) elapsedLocked() time.Duration {
	if !c.started {
		return 0
	}
	var end time.Time
	switch {
	case c.stopped:
		end = c.stoppedAt
	case c.paused:
		end = c.pausedAt
	default:
		end = c.now()
	}
	d := end.Sub(c.startedAt) - c.pausedTotal
	if d < 0 {
		return 0
	}
	return d
}

// PausedTotal returns the total duration of the completed and ongoing pauses.
func (c *Clock) PausedTotal() time.Duration {
	c.locker.Lock()
	defer c.locker.Unlock()
	total := c.pausedTotal
	if c.paused {
		total += c.now().Sub(c.pausedAt)
	}
	return total
}

// ManualTime is a TimeSource advanced explicitly.
type ManualTime struct {
	locker sync.Mutex
	now    time.Time
}

func NewManualTime(start time.Time) *ManualTime {
	return &ManualTime{now: start}
}

func (m *ManualTime) Now() time.Time {
	m.locker.Lock()
	defer m.locker.Unlock()
	return m.now
}

func (m *ManualTime) Advance(d time.Duration) {
	m.locker.Lock()
	defer m.locker.Unlock()
	m.now = m.now.Add(d)
}
