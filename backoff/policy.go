package backoff

import (
	"fmt"
	"math"
	"time"
)

// Kind names a Strategy in a serialisable Policy.
type Kind string

const (
	// KindNone never retries.
	KindNone Kind = "none"
	// KindConstant retries after a fixed interval.
	KindConstant Kind = "constant"
	// KindLinear grows the interval linearly.
	KindLinear Kind = "linear"
	// KindExponential doubles the interval each retry.
	KindExponential Kind = "exponential"
	// KindJitter is exponential with full jitter.
	KindJitter Kind = "jitter"
)

const (
	defaultMaxRetries = 11
	defaultInitial    = 1 * time.Second
	defaultMax        = 1000 * time.Second
)

// Policy is the retry policy stored with an entity's options. Workers use
// it to suggest a delay when an attempt fails, and the lifecycle engine
// uses it for the delay carried by a scheduled attempt timeout.
//
// The zero Policy means "use DefaultPolicy". A zero MaxRetries on a
// non-zero policy also takes the default; use KindNone to never retry.
type Policy struct {
	Kind       Kind          `json:"kind,omitempty" msgpack:"kind,omitempty"`
	MaxRetries uint64        `json:"max_retries,omitempty" msgpack:"max_retries,omitempty"`
	Initial    time.Duration `json:"initial,omitempty" msgpack:"initial,omitempty"`
	Max        time.Duration `json:"max,omitempty" msgpack:"max,omitempty"`
}

// DefaultPolicy retries eleven times with exponential jittered backoff
// between 1s and 1000s.
func DefaultPolicy() Policy {
	return Policy{
		Kind:       KindJitter,
		MaxRetries: defaultMaxRetries,
		Initial:    defaultInitial,
		Max:        defaultMax,
	}
}

// NoRetry is a policy that never retries.
func NoRetry() Policy {
	return Policy{Kind: KindNone}
}

// IsZero reports whether the policy is unset.
func (p Policy) IsZero() bool {
	return p == Policy{}
}

// Validate reports an unknown kind.
func (p Policy) Validate() error {
	switch p.Kind {
	case "", KindNone, KindConstant, KindLinear, KindExponential, KindJitter:
		return nil
	default:
		return fmt.Errorf("backoff: unknown policy kind %q", p.Kind)
	}
}

// Strategy returns the Strategy described by the policy, or nil for
// KindNone.
func (p Policy) Strategy() Strategy {
	if p.IsZero() {
		return DefaultStrategy()
	}
	switch p.Kind {
	case KindConstant:
		return Constant(p.Initial)
	case KindLinear:
		return Linear(p.Initial, p.Max)
	case KindExponential:
		return Exponential(p.Initial, p.Max)
	case KindJitter:
		return FullJitter(Exponential(p.Initial, p.Max))
	default:
		return nil
	}
}

// Delay returns the delay in seconds before retry n (1-indexed), or nil
// when the policy allows no further retry.
func (p Policy) Delay(retry uint64) *float64 {
	if p.IsZero() {
		p = DefaultPolicy()
	}
	limit := p.MaxRetries
	if limit == 0 {
		limit = defaultMaxRetries
	}
	if p.Kind == KindNone || retry == 0 || retry > limit {
		return nil
	}
	s := p.Strategy()
	if s == nil {
		return nil
	}
	return Seconds(s.Delay(retry))
}

// Seconds converts d to a delay in seconds.
func Seconds(d time.Duration) *float64 {
	v := d.Seconds()
	return &v
}

// Duration converts a delay in seconds back to a time.Duration. Nil, NaN
// and non-positive delays yield zero; delays beyond the range of
// time.Duration saturate at its maximum.
func Duration(seconds *float64) time.Duration {
	if seconds == nil || math.IsNaN(*seconds) || *seconds <= 0 {
		return 0
	}
	ns := *seconds * float64(time.Second)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// Usable returns seconds, or nil when it is NaN: a delay that cannot be
// ordered means no retry.
func Usable(seconds *float64) *float64 {
	if seconds != nil && math.IsNaN(*seconds) {
		return nil
	}
	return seconds
}
