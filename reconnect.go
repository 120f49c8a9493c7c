package adminws

import (
	"math"
	"time"
)

// BackoffCalculator returns the time to wait before the given retry attempt (1-based).
type BackoffCalculator func(attempts int) time.Duration

// ReconnectionPolicy decides whether an unexpected disconnect is retried and after how long.
type ReconnectionPolicy struct {
	MaxAttempts int
	Calculator  BackoffCalculator
}

// Next returns the delay for the retry following attempts previous retries. ok is false once
// the budget is exhausted.
func (p ReconnectionPolicy) Next(attempts int) (delay time.Duration, ok bool) {
	if attempts >= p.MaxAttempts {
		return 0, false
	}
	return p.Calculator(attempts + 1), true
}

// LinearBackoff waits base*attempts, capped at max.
func LinearBackoff(base, max time.Duration) BackoffCalculator {
	return func(attempts int) time.Duration {
		if attempts < 1 {
			attempts = 1
		}
		if base > 0 && time.Duration(attempts) >= max/base {
			return max
		}
		return min(base*time.Duration(attempts), max)
	}
}

// ExponentialBackoffCapped waits ExponentialBackoff(attempts) seconds, capped at max. The cap is
// applied before converting to a Duration, which overflows past ~35 attempts.
func ExponentialBackoffCapped(max time.Duration) BackoffCalculator {
	return func(attempts int) time.Duration {
		if ExponentialBackoff(attempts) >= max.Seconds() {
			return max
		}
		return ExponentialBackoffSeconds(attempts)
	}
}

func ExponentialBackoff(attempts int) float64 {
	return (math.Pow(2.0, float64(attempts)) - 1) / 2
}

func ExponentialBackoffSeconds(attempts int) time.Duration {
	return time.Duration(ExponentialBackoff(attempts) * float64(time.Second))
}

// NewReconnectionPolicy builds the policy configured in cfg.
func NewReconnectionPolicy(cfg Config) ReconnectionPolicy {
	calc := LinearBackoff(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay)
	if cfg.Backoff == BackoffExponential {
		calc = ExponentialBackoffCapped(cfg.ReconnectMaxDelay)
	}
	return ReconnectionPolicy{MaxAttempts: cfg.MaxReconnectAttempts, Calculator: calc}
}
