package timer

import "time"

// SetTimeout calls f once after duration unless the returned timer is
// stopped first.
func SetTimeout(duration time.Duration, f func()) *time.Timer {
	return time.AfterFunc(duration, f)
}
