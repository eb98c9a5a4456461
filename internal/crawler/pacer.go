package crawler

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// DelayMode selects how long a stream pauses between pages.
type DelayMode string

// Supported delay modes.
const (
	DelayNone   DelayMode = "none"
	DelayFixed  DelayMode = "fixed"
	DelayRandom DelayMode = "random"
)

// DelayPacer implements Pacer with a none, fixed, or uniform random delay.
type DelayPacer struct {
	mode  DelayMode
	fixed time.Duration
	min   time.Duration
	max   time.Duration
}

// NewDelayPacer validates the delay parameters for the selected mode.
func NewDelayPacer(mode DelayMode, fixed, minDelay, maxDelay time.Duration) (*DelayPacer, error) {
	switch mode {
	case DelayNone, "":
		return &DelayPacer{mode: DelayNone}, nil
	case DelayFixed:
		if fixed < 0 {
			return nil, fmt.Errorf("fixed delay must be >= 0, got %s", fixed)
		}
		return &DelayPacer{mode: mode, fixed: fixed}, nil
	case DelayRandom:
		if minDelay < 0 || maxDelay < minDelay {
			return nil, fmt.Errorf("random delay range [%s, %s] is invalid", minDelay, maxDelay)
		}
		return &DelayPacer{mode: mode, min: minDelay, max: maxDelay}, nil
	default:
		return nil, fmt.Errorf("unknown delay mode %q", mode)
	}
}

// Next returns the delay to apply before the next page.
func (p *DelayPacer) Next() time.Duration {
	switch p.mode {
	case DelayFixed:
		return p.fixed
	case DelayRandom:
		return p.min + randomDuration(p.max-p.min)
	default:
		return 0
	}
}

// Wait blocks for the next delay or until ctx is done.
func (p *DelayPacer) Wait(ctx context.Context) error {
	return sleepContext(ctx, p.Next())
}

func randomDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)+1))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("delay interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
