package stream

import "time"

// Policy decides whether a failed connection is retried and after how long.
// The delay is fixed; attempts are counted since the last successful open.
type Policy struct {
	Enabled     bool
	Delay       time.Duration
	MaxAttempts int
}

// Next returns the delay before attempt number attempts+1, or false when the
// policy is disabled or the cap has been reached.
func (p Policy) Next(attempts int) (time.Duration, bool) {
	if !p.Enabled || attempts >= p.MaxAttempts {
		return 0, false
	}
	if p.Delay < 0 {
		return 0, true
	}
	return p.Delay, true
}
