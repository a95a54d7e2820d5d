package autosave

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retrySchedule tracks consecutive transient failures and produces the
// exponential backoff delay for the next automatic retry. It is not
// safe for concurrent use; the engine calls it under its own lock.
type retrySchedule struct {
	eb         *backoff.ExponentialBackOff
	maxRetries int
	failures   int
}

func newRetrySchedule(base, max time.Duration, maxRetries int) *retrySchedule {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.MaxInterval = max
	eb.Multiplier = 2
	// Deterministic delays: the countdown shown to the user should match
	// the actual wait.
	eb.RandomizationFactor = 0
	// Retries are bounded by count, never by elapsed time.
	eb.MaxElapsedTime = 0
	eb.Reset()

	return &retrySchedule{eb: eb, maxRetries: maxRetries}
}

// fail records a transient failure. It returns the delay before the next
// automatic retry, or ok=false once the ceiling is reached.
func (r *retrySchedule) fail() (delay time.Duration, ok bool) {
	r.failures++
	if r.failures >= r.maxRetries {
		return 0, false
	}
	return r.eb.NextBackOff(), true
}

// reset clears the failure streak after a confirmed success.
func (r *retrySchedule) reset() {
	r.failures = 0
	r.eb.Reset()
}

func (r *retrySchedule) count() int { return r.failures }
