package compaction

import "time"

// Clock abstracts time for the job loops.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// nextFire returns the first instant strictly after now that is offset past
// a multiple of period since the Unix epoch (UTC).
func nextFire(now time.Time, period, offset time.Duration) time.Time {
	base := now.UTC().Truncate(period)
	next := base.Add(offset)
	for !next.After(now) {
		next = next.Add(period)
	}
	return next
}
