package manager

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ReconnectPolicy governs automatic reconnection after an unexpected
// disconnect.
type ReconnectPolicy struct {
	Enabled bool
	// Grace is the wait before the first attempt.
	Grace time.Duration
	// Base is the wait before the second attempt; each later attempt doubles it.
	Base time.Duration
	// Max caps the exponential delay.
	Max time.Duration
	// JitterMax bounds the random extra added to every delay.
	JitterMax time.Duration
	// MaxAttempts is the number of attempts before giving up. 0 means unlimited.
	MaxAttempts int
}

// DefaultReconnectPolicy returns the stock policy.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:     true,
		Grace:       time.Second,
		Base:        2 * time.Second,
		Max:         60 * time.Second,
		JitterMax:   500 * time.Millisecond,
		MaxAttempts: 10,
	}
}

var ErrInvalidPolicy = errors.New("manager: invalid reconnect policy")

func (p ReconnectPolicy) Validate() error {
	switch {
	case p.Grace < 0 || p.Base < 0 || p.Max < 0 || p.JitterMax < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidPolicy)
	case p.Max < p.Grace:
		return fmt.Errorf("%w: max must not be below grace", ErrInvalidPolicy)
	case p.MaxAttempts < 0:
		return fmt.Errorf("%w: max attempts must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// Delay is the wait before attempt (1-based), without jitter:
// attempt 1 waits Grace, attempt n waits Base * 2^(n-2) capped at Max.
// The sequence never drops below Grace and never decreases.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.Grace
	}

	delay := float64(p.Base) * math.Pow(2, float64(attempt-2))
	if delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	if d := time.Duration(delay); d > p.Grace {
		return d
	}
	return p.Grace
}

// DelayWithJitter adds rnd()*JitterMax to Delay. rnd must return values in [0, 1).
func (p ReconnectPolicy) DelayWithJitter(attempt int, rnd func() float64) time.Duration {
	d := p.Delay(attempt)
	if p.JitterMax > 0 && rnd != nil {
		d += time.Duration(rnd() * float64(p.JitterMax))
	}
	return d
}

// Exhausted reports whether attempt is past MaxAttempts.
func (p ReconnectPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}
