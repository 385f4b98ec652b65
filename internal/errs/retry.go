package errs

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tgmirror/pkg/telegramapi"
)

// RetryPolicy drives exponential backoff for retryable categories.
// Delay per attempt is Base * Factor^attempt clamped to MaxDelay.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	MaxDelay   time.Duration
	Factor     float64
}

// DefaultRetryPolicy mirrors the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Base: time.Second, MaxDelay: 60 * time.Second, Factor: 2}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = p.Factor
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs op, retrying retryable failures up to MaxRetries with exponential
// backoff. A flood-wait signal is slept exactly as instructed and does not
// consume an attempt. Auth, permission and validation errors fail fast.
func (p RetryPolicy) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	bo := p.newBackOff()
	attempt := 0
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}

		if wait, ok := telegramapi.AsFloodWait(err); ok {
			log.Printf("[Retry %s] flood wait, sleeping %s", label, wait)
			if slept := sleepCtx(ctx, wait); !slept {
				return ctx.Err()
			}
			continue // does not consume a retry attempt
		}

		cat := Classify(err)
		if !Retryable(cat) || attempt >= p.MaxRetries {
			return err
		}
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		attempt++
		log.Printf("[Retry %s] attempt %d/%d in %s: %v", label, attempt, p.MaxRetries, delay, err)
		if slept := sleepCtx(ctx, delay); !slept {
			return ctx.Err()
		}
	}
}

// SleepFloodWait blocks for the instructed wait, honoring cancellation.
// Returns false when the context ended first.
func SleepFloodWait(ctx context.Context, wait time.Duration) bool {
	return sleepCtx(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
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
