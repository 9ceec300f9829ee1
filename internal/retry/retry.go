package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// maxRetries is the source's re_attempts = 5: one initial attempt plus up
// to 5 retries, 6 calls to attemptFn total in the worst case.
const maxRetries = 5

const (
	minBackoff    = 1 * time.Millisecond
	maxBackoff    = 30 * time.Second
	jitterRatio   = 0.2
)

// AttemptCounter is a mutex-guarded attempt index shared between a retry
// loop and whatever logs/traces it, per §5 "shared mutable state (3)".
type AttemptCounter struct {
	mu    sync.Mutex
	count int
}

func (c *AttemptCounter) next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.count
}

// Current returns the number of attempts made so far.
func (c *AttemptCounter) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minBackoff
	b.MaxInterval = maxBackoff
	b.RandomizationFactor = jitterRatio
	b.Multiplier = 2
	return b
}

// AttemptFunc performs one logical attempt. attempt is 1-based.
type AttemptFunc[T any] func(ctx context.Context, attempt int) (T, error)

// Run drives attemptFn through the retry loop, classifying each failure
// with classify, and returns the terminal Outcome. A nil classify uses
// Classify.
func Run[T any](ctx context.Context, counter *AttemptCounter, attemptFn AttemptFunc[T], classify func(error) Transience) Outcome[T] {
	if classify == nil {
		classify = Classify
	}
	if counter == nil {
		counter = &AttemptCounter{}
	}

	bo := newBackOff()
	var history []string

	for {
		attempt := counter.next()
		value, err := attemptFn(ctx, attempt)
		if err == nil {
			if len(history) == 0 {
				return ok(value)
			}
			return recovered(value, history)
		}

		if classify(err) == Fatal {
			if len(history) == 0 {
				return fatal[T](err)
			}
			// A fatal error after prior transient attempts still reports
			// as GivenUp so the full attempt history is preserved.
			return givenUp[T](history, err)
		}

		history = append(history, err.Error())

		if attempt > maxRetries {
			return givenUp[T](history, err)
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return givenUp[T](history, err)
		}

		select {
		case <-ctx.Done():
			return givenUp[T](history, ctx.Err())
		case <-time.After(jitter(delay)):
		}
	}
}

// jitter re-applies the 0.2 randomization ratio on top of the backoff
// library's own delay in case callers configure a BackOff that doesn't
// already jitter (kept defensive; newBackOff's ExponentialBackOff already
// jitters internally).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := float64(d) * jitterRatio
	delta := (rand.Float64()*2 - 1) * spread
	result := time.Duration(float64(d) + delta)
	if result < 0 {
		result = 0
	}
	return result
}
