package flow

import (
	"math/rand"
	"time"
)

// RetryPolicy defines the backoff applied between node retry attempts.
//
// The attempt budget itself (maxRetries + 1 total attempts) comes from
// ExecutionOptions; the policy only shapes the delays between those attempts.
// Exponential backoff with jitter avoids synchronized retry storms when
// several nodes fail against the same downstream dependency. Backoff is an
// implementation refinement: total attempts and the final status are exactly
// as ExecutionOptions specifies regardless of delay shape.
type RetryPolicy struct {
	// BaseDelay is the base for exponential backoff. Zero disables delays
	// entirely (immediate retries).
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means no cap.
	MaxDelay time.Duration

	// Jitter adds a random delay in [0, BaseDelay) to each backoff to spread
	// concurrent retries.
	Jitter bool
}

// Validate checks the policy's internal constraints.
func (rp *RetryPolicy) Validate() error {
	if rp.BaseDelay < 0 || rp.MaxDelay < 0 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// backoff computes the delay before retry attempt number attempt (zero-based:
// 0 is the delay before the first retry).
//
// delay = min(BaseDelay * 2^attempt, MaxDelay) [+ jitter(0, BaseDelay)]
func (rp *RetryPolicy) backoff(attempt int, rng *rand.Rand) time.Duration {
	if rp == nil || rp.BaseDelay <= 0 {
		return 0
	}

	// Bit shift for 2^attempt; clamp the shift so large attempt counts
	// cannot overflow into negative durations.
	shift := uint(attempt)
	if shift > 20 {
		shift = 20
	}
	delay := rp.BaseDelay << shift
	if rp.MaxDelay > 0 && delay > rp.MaxDelay {
		delay = rp.MaxDelay
	}

	if rp.Jitter {
		var j int64
		if rng != nil {
			j = rng.Int63n(int64(rp.BaseDelay))
		} else {
			j = rand.Int63n(int64(rp.BaseDelay)) // #nosec G404 -- retry timing, not security
		}
		delay += time.Duration(j)
	}
	return delay
}
