// Package retry paces reconnect loops.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMin = 500 * time.Millisecond
	defaultMax = 15 * time.Second

	// Jitter is the randomization factor applied to every delay.
	Jitter = 1.0 / 7
)

// Backoff doubles from Min up to Max, each delay jittered by ±Jitter, and
// never gives up. The zero value uses 500ms..15s. A Backoff must not be
// copied after first use.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	exp *backoff.ExponentialBackOff
}

func (b *Backoff) policy() *backoff.ExponentialBackOff {
	if b.exp != nil {
		return b.exp
	}
	lo, hi := b.Min, b.Max
	if lo <= 0 {
		lo = defaultMin
	}
	if hi < lo {
		hi = defaultMax
		if hi < lo {
			hi = lo
		}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = lo
	exp.MaxInterval = hi
	exp.Multiplier = 2
	exp.RandomizationFactor = Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()
	b.exp = exp
	return exp
}

// Next returns the jittered delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	return b.policy().NextBackOff()
}

// Reset starts the next sequence from Min again.
func (b *Backoff) Reset() { b.policy().Reset() }

// Wait sleeps Next(). It returns false if ctx ended first.
func (b *Backoff) Wait(ctx context.Context) bool {
	d := backoff.WithContext(b.policy(), ctx).NextBackOff()
	if d == backoff.Stop {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
