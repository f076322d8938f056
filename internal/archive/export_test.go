package archive

import "time"

// SetTimeNow replaces the clock used to name archive folders and
// returns a function that restores it.
func SetTimeNow(now func() time.Time) func() {
	saved := timeNow
	timeNow = now
	return func() { timeNow = saved }
}
