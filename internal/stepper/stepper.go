// Package stepper discretizes a run's observed time span into
// fixed-stride candidate window start times.
package stepper

import "time"

// Windows enumerates candidate start times in [first, last), advancing
// by stride from first. The value equal to or past last is never
// emitted. A span with first >= last yields an empty (non-nil) slice:
// callers treat that as "no data", not an error.
func Windows(first, last time.Time, stride time.Duration) []time.Time {
	out := []time.Time{}
	if stride <= 0 {
		return out
	}
	for t := first; t.Before(last); t = t.Add(stride) {
		out = append(out, t)
	}
	return out
}

// Iter returns a restartable iterator over the same sequence Windows
// produces, without materializing it. Each call to the returned next
// function yields the following start time until the sequence is
// exhausted.
func Iter(first, last time.Time, stride time.Duration) func() (time.Time, bool) {
	cur := first
	return func() (time.Time, bool) {
		if stride <= 0 || !cur.Before(last) {
			return time.Time{}, false
		}
		t := cur
		cur = cur.Add(stride)
		return t, true
	}
}
