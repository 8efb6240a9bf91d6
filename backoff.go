package syncengine

import (
	"math/rand"
	"sync"
	"time"
)

// maxBackoffExponent bounds the doubling so pathologically large attempt
// counts cannot overflow the delay arithmetic.
const maxBackoffExponent = 20

// ExponentialBackoff computes retry delays as a pure function of its
// configuration and an attempt index. A single instance is safe for
// concurrent use.
type ExponentialBackoff struct {
	baseDelay    time.Duration
	maxDelay     time.Duration
	jitterFactor float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewExponentialBackoff creates a backoff policy. jitterFactor scales the
// random spread applied by DelayWithJitter; 0 disables jitter entirely.
func NewExponentialBackoff(baseDelay, maxDelay time.Duration, jitterFactor float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		jitterFactor: jitterFactor,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns baseDelay * 2^attempt capped at maxDelay. The exponent is
// clamped to [0, 20].
func (b *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffExponent {
		attempt = maxBackoffExponent
	}

	delay := b.baseDelay << uint(attempt)
	if delay > b.maxDelay || delay < 0 {
		delay = b.maxDelay
	}
	return delay
}

// DelayWithJitter returns Delay(attempt) spread by a uniform random factor in
// [-jitterFactor, +jitterFactor], clamped at zero. With jitterFactor 0 the
// result deterministically equals Delay(attempt).
func (b *ExponentialBackoff) DelayWithJitter(attempt int) time.Duration {
	base := b.Delay(attempt)
	if b.jitterFactor == 0 {
		return base
	}

	b.mu.Lock()
	u := b.rand.Float64()*2 - 1 // uniform in [-1, 1)
	b.mu.Unlock()

	jittered := time.Duration(float64(base) + float64(base)*b.jitterFactor*u)
	if jittered < 0 {
		return 0
	}
	return jittered
}

// DelaySequence returns n successive jittered delays for attempts 0..n-1.
// Useful for precomputed retry schedules and tests.
func (b *ExponentialBackoff) DelaySequence(n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	out := make([]time.Duration, n)
	for i := 0; i < n; i++ {
		out[i] = b.DelayWithJitter(i)
	}
	return out
}
