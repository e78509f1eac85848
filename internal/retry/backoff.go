package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy is the single backoff configuration shared by every retrying call
// site (gateway client, reconcile retry queue). Delay for attempt n is
// min(Base * 2^n + jitter, Cap), with jitter uniform in [0, Base).
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int // total attempts, including the first

	// rnd allows deterministic jitter in tests; nil means math/rand default.
	rnd *rand.Rand
}

// WithRand returns a copy of the policy using r for jitter.
func (p Policy) WithRand(r *rand.Rand) Policy {
	p.rnd = r
	return p
}

// Delay returns the wait before retry number attempt (0-based: Delay(0) is the
// wait after the first failure).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base << uint(attempt)
	if d <= 0 || d > p.Cap {
		// shift overflow or past the cap
		d = p.Cap
	}
	d += p.jitter()
	if d > p.Cap {
		d = p.Cap
	}
	return d
}

func (p Policy) jitter() time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if p.rnd != nil {
		return time.Duration(p.rnd.Int63n(int64(p.Base)))
	}
	return time.Duration(rand.Int63n(int64(p.Base)))
}

// Do runs fn up to MaxAttempts times, sleeping Delay(attempt) between
// attempts. It stops early when fn succeeds, when fn reports the error is not
// retryable, or when ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}
