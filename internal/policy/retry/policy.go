// Package retry implements the bounded retry policy applied to upstream fetches.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// Reason labels why an attempt is being retried.
type Reason string

// Retry reasons.
const (
	ReasonNetwork   Reason = "network"
	ReasonChallenge Reason = "challenge"
)

// Policy is a table of retry limits and delays.
type Policy struct {
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	ChallengeRetries int
	ChallengeDelay   time.Duration
}

// Default returns the production retry table: two network retries starting at
// one second and doubling up to four, plus one challenge retry after one second.
func Default() Policy {
	return Policy{
		MaxRetries:       2,
		BaseDelay:        time.Second,
		MaxDelay:         4 * time.Second,
		ChallengeRetries: 1,
		ChallengeDelay:   time.Second,
	}
}

// Backoff returns the wait before network retry n (0-based): min(base*2^n, max).
func (p Policy) Backoff(n int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < n; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Classify reports whether err may be retried and under which budget.
func Classify(err error) (Reason, bool) {
	if err == nil {
		return "", false
	}
	if errors.Is(err, newsletter.ErrChallengeDetected) {
		return ReasonChallenge, true
	}
	var netErr *newsletter.NetworkError
	if errors.As(err, &netErr) && netErr.Transient() {
		return ReasonNetwork, true
	}
	return "", false
}

// Attempt describes one scheduled retry.
type Attempt struct {
	Number int
	Reason Reason
	Delay  time.Duration
	Err    error
}

// Do runs fn until it succeeds, fails permanently, or exhausts the retry
// budget for its failure kind. onRetry, when non-nil, is invoked before each sleep.
func Do(ctx context.Context, p Policy, fn func(context.Context) error, onRetry func(Attempt)) error {
	networkRetries, challengeRetries := 0, 0
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		reason, retryable := Classify(err)
		if !retryable {
			return err
		}

		var delay time.Duration
		switch reason {
		case ReasonChallenge:
			if challengeRetries >= p.ChallengeRetries {
				return err
			}
			delay = p.ChallengeDelay
			challengeRetries++
		default:
			if networkRetries >= p.MaxRetries {
				return err
			}
			delay = p.Backoff(networkRetries)
			networkRetries++
		}

		if onRetry != nil {
			onRetry(Attempt{Number: attempt, Reason: reason, Delay: delay, Err: err})
		}
		if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
