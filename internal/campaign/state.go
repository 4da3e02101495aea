package campaign

import (
	"time"

	"github.com/robfig/cron/v3"
)

// State is the phase of the daily cycle.
type State int32

const (
	Idle State = iota
	Syncing
	Planning
	Authenticating
	Posting
	Sleeping
)

func (s State) String() string {
	switch s {
	case Syncing:
		return "syncing"
	case Planning:
		return "planning"
	case Authenticating:
		return "authenticating"
	case Posting:
		return "posting"
	case Sleeping:
		return "sleeping"
	default:
		return "idle"
	}
}

// minSleep is the floor for the end-of-cycle sleep.
const minSleep = time.Hour

// NextWake returns the first time sched fires on a calendar day after the
// one now falls on. With the default "1 0 * * *" that is 00:01 tomorrow. A
// nil schedule means 00:01 tomorrow.
func NextWake(now time.Time, sched cron.Schedule) time.Time {
	y, m, d := now.Date()
	tomorrow := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	if sched == nil {
		return tomorrow.Add(time.Minute)
	}
	// cron looks strictly after its argument, rounded up to the second.
	return sched.Next(tomorrow.Add(-time.Second))
}

// SleepUntil is the wait from now to wake. A non-positive result, which only
// a clock jump can produce, becomes one hour.
func SleepUntil(now, wake time.Time) time.Duration {
	if d := wake.Sub(now); d > 0 {
		return d
	}
	return minSleep
}
