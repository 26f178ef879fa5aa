package audit

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff computes jittered exponential delays shared by the browser
// pool (relaunch attempts) and the orchestrator (fetch retries,
// requeue on pool exhaustion).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the policy used when config leaves it unset.
func DefaultBackoff() Backoff {
	return Backoff{Base: 250 * time.Millisecond, Max: 5 * time.Second}
}

// Delay returns the wait before the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
