package retry

import "time"

// Clock abstracts wall-clock reads so Cleanup's staleness math can be
// exercised without waiting on real time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
