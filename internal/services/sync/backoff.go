package sync

import "time"

// Backoff computes how long a failed payload waits before the
// background drain may attempt it again. Delay doubles per recorded
// failure and is capped at Max. Explicit drains ignore the window;
// only scheduled drains honor it.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait applied after a failure that left the
// payload with the given retry count. A non-positive Base disables
// backoff entirely.
func (b Backoff) Delay(retryCount int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	// Shifting past 30 would overflow any sane Base; every realistic
	// retry ceiling is far below that.
	if retryCount > 30 {
		return b.cap(0)
	}
	d := b.Base << uint(retryCount)
	if d <= 0 {
		return b.cap(0)
	}
	return b.cap(d)
}

// NextAttempt stamps when the payload becomes eligible again. The
// zero time means immediately eligible.
func (b Backoff) NextAttempt(now time.Time, retryCount int) time.Time {
	d := b.Delay(retryCount)
	if d == 0 {
		return time.Time{}
	}
	return now.Add(d)
}

func (b Backoff) cap(d time.Duration) time.Duration {
	if b.Max > 0 && (d <= 0 || d > b.Max) {
		return b.Max
	}
	return d
}
