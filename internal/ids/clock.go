package ids

import (
	"sync"
	"time"
)

// Clock is a hybrid logical clock for one peer: a (wall-time,
// logical-counter) pair plus origin peer, producing monotonically
// increasing HybridTimestamps for causality tracking.
type Clock struct {
	mu       sync.Mutex
	wallTime uint64
	counter  uint32
	peer     PeerId
	nowFn    func() uint64
}

// NewClock creates a new HLC for peer, seeded from the current wall clock.
func NewClock(peer PeerId) *Clock {
	return NewClockWithTime(peer, nowMillis())
}

// NewClockWithTime creates an HLC with an initial wall-time, for restoring
// clock state from persistent storage after a restart.
func NewClockWithTime(peer PeerId, initialWallTime uint64) *Clock {
	return &Clock{
		wallTime: initialWallTime,
		peer:     peer,
		nowFn:    nowMillis,
	}
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Tick produces a new local timestamp. Must be called before every local
// mutation. If the wall clock has not advanced since the last tick, the
// logical counter increments instead, keeping the result monotonic.
func (c *Clock) Tick() HybridTimestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	if now > c.wallTime {
		c.wallTime = now
		c.counter = 0
	} else {
		c.counter++
	}
	return HybridTimestamp{WallTime: c.wallTime, Counter: c.counter, Peer: c.peer}
}

// Update merges a remote timestamp into the clock. Sets the local wall-time
// to max(local, remote, wall-clock) and bumps the counter so the returned
// timestamp strictly follows everything observed so far. Must be called
// when receiving remote state.
func (c *Clock) Update(remote HybridTimestamp) HybridTimestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	max := c.wallTime
	if now > max {
		max = now
	}
	if remote.WallTime > max {
		max = remote.WallTime
	}

	switch {
	case max == c.wallTime && max == remote.WallTime:
		if remote.Counter > c.counter {
			c.counter = remote.Counter
		}
		c.counter++
	case max == c.wallTime:
		c.counter++
	case max == remote.WallTime:
		c.counter = remote.Counter + 1
	default:
		c.counter = 0
	}
	c.wallTime = max
	return HybridTimestamp{WallTime: c.wallTime, Counter: c.counter, Peer: c.peer}
}

// Now returns the current timestamp without advancing the clock.
func (c *Clock) Now() HybridTimestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return HybridTimestamp{WallTime: c.wallTime, Counter: c.counter, Peer: c.peer}
}
