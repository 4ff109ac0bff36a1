package orchestrator

import "time"

// newTicker is a thin wrapper so a zero-valued Config (SyncInterval == 0)
// can't spin a ticker at an undefined rate; it falls back to a sane default
// instead of panicking the way time.NewTicker(0) would.
func newTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		d = 30 * time.Second
	}
	return time.NewTicker(d)
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
