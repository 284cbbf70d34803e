package quota

import "time"

// Counter is the request count accumulated in one window.
type Counter struct {
	// Timestamp is the start of the window, in UTC.
	Timestamp time.Time `json:"timestamp"`

	// Count is a float so that weighted increments can be fractional.
	Count float64 `json:"count"`
}

// Expired reports whether the counter's window has ended before now.
func (c Counter) Expired(period time.Duration, now time.Time) bool {
	return c.Timestamp.Add(period).Before(now)
}

// WindowEnd returns the instant at which the counter's window closes.
func (c Counter) WindowEnd(period time.Duration) time.Time {
	return c.Timestamp.Add(period)
}

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// AlignedWindowStart returns floor(now/period)*period measured from the
// Unix epoch: the start of the fixed window containing now.
func AlignedWindowStart(now time.Time, period time.Duration) time.Time {
	if period <= 0 {
		return now.UTC()
	}
	ns := now.UnixNano()
	rem := ns % int64(period)
	if rem < 0 {
		rem += int64(period)
	}
	return time.Unix(0, ns-rem).UTC()
}
