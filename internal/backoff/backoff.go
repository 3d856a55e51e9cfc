// Package backoff computes the Node reconnect schedule required by
// spec.md §4.3/§5: delay = min(initial·2^attempt, max), capped at a hard
// attempt count. It is a thin wrapper over
// github.com/cenkalti/backoff/v4's exponential backoff rather than a
// hand-rolled doubling loop: the doubling and the MaxDelay cap come from
// the library's NextBackOff, while the attempt cap is counted here.
// Waiting out a delay (and cancelling that wait) is left to the caller.
package backoff

import (
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// Schedule produces successive reconnect delays for a Node.
type Schedule struct {
	b        *cbackoff.ExponentialBackOff
	maxTries int
	attempt  int
}

// NewSchedule builds a Schedule matching initial/max delay and a hard
// attempt cap. MaxElapsedTime is disabled: the spec bounds retries by
// count (MaxTries), not wall-clock.
func NewSchedule(initialDelay, maxDelay time.Duration, maxTries int) *Schedule {
	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = initialDelay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &Schedule{b: b, maxTries: maxTries}
}

// Next returns the next delay and true, or zero and false once MaxTries
// has been exhausted.
func (s *Schedule) Next() (time.Duration, bool) {
	if s.maxTries > 0 && s.attempt >= s.maxTries {
		return 0, false
	}
	s.attempt++
	d := s.b.NextBackOff()
	if d == cbackoff.Stop {
		return 0, false
	}
	return d, true
}

// Attempt returns the 1-based count of delays handed out so far.
func (s *Schedule) Attempt() int { return s.attempt }

// Reset zeroes the attempt counter and the underlying backoff's interval,
// called once a Node reaches READY.
func (s *Schedule) Reset() {
	s.attempt = 0
	s.b.Reset()
}
