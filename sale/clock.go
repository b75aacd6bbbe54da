package sale

import "time"

// Clock is the shared time source phase boundaries are compared against.
// All comparisons run against the same clock, so observers replaying the
// event stream reach identical phase decisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads wall-clock time. Tests substitute a manual clock.
var SystemClock Clock = systemClock{}
