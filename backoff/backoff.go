// Package backoff provides retry delay strategies for failed attempts and
// the serialisable Policy carried in entity options. Strategies hold no
// state and are safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry n. Retry 1 follows the first
// failure of an attempt.
type Strategy interface {
	Delay(retry uint64) time.Duration
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(retry uint64) time.Duration

// Delay calls f.
func (f StrategyFunc) Delay(retry uint64) time.Duration { return f(retry) }

// Constant waits interval before every retry.
func Constant(interval time.Duration) Strategy {
	return StrategyFunc(func(uint64) time.Duration { return interval })
}

// Linear waits initial*n before retry n, capped at maxDelay when positive.
func Linear(initial, maxDelay time.Duration) Strategy {
	return StrategyFunc(func(retry uint64) time.Duration {
		return capped(float64(initial)*float64(retry), maxDelay)
	})
}

// Exponential waits initial*2^(n-1) before retry n, capped at maxDelay
// when positive.
func Exponential(initial, maxDelay time.Duration) Strategy {
	return StrategyFunc(func(retry uint64) time.Duration {
		if retry == 0 {
			return 0
		}
		return capped(float64(initial)*math.Pow(2, float64(retry-1)), maxDelay)
	})
}

// FullJitter draws a delay uniformly from [0, s.Delay(n)] so that
// entities failing together do not retry together.
func FullJitter(s Strategy) Strategy {
	return StrategyFunc(func(retry uint64) time.Duration {
		return time.Duration(rand.Float64() * float64(s.Delay(retry))) //nolint:gosec // jitter does not need crypto rand
	})
}

// DefaultStrategy is the strategy of DefaultPolicy: full jitter over an
// exponential from 1s to 1000s.
func DefaultStrategy() Strategy {
	return FullJitter(Exponential(defaultInitial, defaultMax))
}

func capped(d float64, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
