// ABOUTME: Retry policies deciding whether a failed channel operation earns a node restart.
// ABOUTME: OnceRetry retries a failed read or write once; BackoffRetry waits between attempts.

package node

import (
	"errors"
	"time"

	"github.com/2389/coven-peer/internal/ipc"
)

// RetryPolicy decides whether the attempt-th failure of a read or write should
// be answered with a restart and another try. attempt starts at 1.
type RetryPolicy interface {
	ShouldRetry(attempt int, err error) bool
}

// Backoff is implemented by policies that want a pause before each retry.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// retryable reports whether err is a transport failure a restart could fix.
func retryable(err error) bool {
	return err != nil && !errors.Is(err, ipc.ErrFrameTooLarge)
}

// OnceRetry restarts once and retries once.
type OnceRetry struct{}

// ShouldRetry allows only the first retry.
func (OnceRetry) ShouldRetry(attempt int, err error) bool {
	return attempt <= 1 && retryable(err)
}

// BackoffRetry allows up to MaxAttempts retries with exponential backoff and a
// small linear jitter between them.
type BackoffRetry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration
}

// ShouldRetry allows attempts up to MaxAttempts (default 3).
func (b BackoffRetry) ShouldRetry(attempt int, err error) bool {
	limit := b.MaxAttempts
	if limit <= 0 {
		limit = 3
	}
	return attempt <= limit && retryable(err)
}

// Delay doubles BaseDelay (default 200ms) per attempt and adds 25ms of jitter
// per attempt, capped at MaxJitter (default 100ms).
func (b BackoffRetry) Delay(attempt int) time.Duration {
	base := b.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if attempt <= 0 {
		return base
	}
	maxJitter := b.MaxJitter
	if maxJitter <= 0 {
		maxJitter = 100 * time.Millisecond
	}
	jitter := time.Duration(attempt) * 25 * time.Millisecond
	if jitter > maxJitter {
		jitter = maxJitter
	}
	return base<<(attempt-1) + jitter
}
