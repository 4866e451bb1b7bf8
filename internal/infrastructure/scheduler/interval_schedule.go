package scheduler

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// IntervalSchedule runs a job every Interval, shifted by up to Jitter so that
// several replicas do not refresh in lockstep.
type IntervalSchedule struct {
	Interval time.Duration
	Jitter   time.Duration
}

// Every creates an IntervalSchedule without jitter.
func Every(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	next := t.Add(s.Interval)
	if s.Jitter > 0 {
		next = next.Add(rand.N(s.Jitter))
	}
	return next
}

func (s *IntervalSchedule) String() string {
	if s.Jitter > 0 {
		return fmt.Sprintf("@every %s ~%s", s.Interval, s.Jitter)
	}
	return fmt.Sprintf("@every %s", s.Interval)
}
