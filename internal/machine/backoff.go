package machine

import (
	"time"

	"github.com/cenkalti/backoff"
)

// nextBackoff doubles the current wait, clamped to [step, max]. The policy is
// deterministic: randomization is disabled so restart replays schedule the
// same retry times.
func nextBackoff(current time.Duration, step, max time.Duration) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = step
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = max
	policy.MaxElapsedTime = 0
	policy.Reset()

	if current < step {
		return policy.NextBackOff()
	}
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > max {
		next = max
	}
	return next
}
