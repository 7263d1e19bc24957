package models

import (
	"math"
	"time"
)

// Result is the outcome of one sliding-window check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a rejected caller should wait, rounded up to whole
// seconds and never less than one.
func (r Result) RetryAfter(now time.Time) time.Duration {
	secs := math.Ceil(r.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
