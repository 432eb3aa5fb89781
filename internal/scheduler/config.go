package scheduler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/felixgeelhaar/dispatch/internal/envelope"
)

// Backoff is the retry delay schedule. The delay before retry k is
// min(Initial*Multiplier^(k-1), Max), without jitter.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

func (b Backoff) newBackOff() backoff.BackOff {
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     b.Initial,
		RandomizationFactor: 0,
		Multiplier:          b.Multiplier,
		MaxInterval:         b.Max,
	}
	if eb.Multiplier < 1 {
		eb.Multiplier = 1
	}
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	eb.Reset()
	return eb
}

// Config controls one Scheduler.
type Config struct {
	// MaxConcurrency bounds in-flight worker invocations in parallel layers.
	MaxConcurrency int
	// TaskTimeout bounds each attempt. Zero disables it.
	TaskTimeout time.Duration
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	Backoff    Backoff
	// RunTimeout bounds the whole run. Zero disables it.
	RunTimeout time.Duration
	// CancelGrace is how long a cancelled worker may take to return.
	CancelGrace time.Duration
	// FailFast skips every task not yet started once any task fails.
	FailFast bool
	// Budget is the token budget of each envelope.
	Budget envelope.TokenBudget
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		TaskTimeout:    60 * time.Second,
		MaxRetries:     2,
		Backoff: Backoff{
			Initial:    250 * time.Millisecond,
			Multiplier: 2,
			Max:        5 * time.Second,
		},
		CancelGrace: 2 * time.Second,
		Budget:      6000,
	}
}

func (c Config) normalized() Config {
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = DefaultConfig().CancelGrace
	}
	return c
}

// Sleeper waits d or until ctx is done, returning ctx's error in that case.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
