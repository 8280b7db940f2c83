package retry

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/ncecere/carving_editor/internal/models"
)

const (
	DefaultMaxRetries   = 2
	DefaultInitialDelay = time.Second

	// MaxRetryDelay caps any parsed retry hint.
	MaxRetryDelay = time.Hour
)

// Attempt performs one provider call.
type Attempt func(ctx context.Context) (models.EditResult, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Controller retries quota failures with exponential backoff, preferring the
// provider's own retry hint when one is supplied.
type Controller struct {
	MaxRetries   int
	InitialDelay time.Duration
	// MaxWait caps a single wait, including provider hints. Zero disables the cap.
	MaxWait time.Duration
	Sleep   SleepFunc
	// OnRetry is invoked before each wait. retry is 1-based.
	OnRetry func(retry int, wait time.Duration, err error)
}

// New returns a controller with the given limits and a context-aware sleep.
func New(maxRetries int, initialDelay time.Duration) *Controller {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}
	return &Controller{MaxRetries: maxRetries, InitialDelay: initialDelay, Sleep: Sleep}
}

// Do runs attempt until it succeeds, fails with a non-quota error, or the
// retry budget is spent. The terminal error is returned unchanged.
func (c *Controller) Do(ctx context.Context, attempt Attempt) (models.EditResult, error) {
	sleep := c.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	delay := c.InitialDelay
	if delay <= 0 {
		delay = DefaultInitialDelay
	}

	tries := 0
	for {
		result, err := attempt(ctx)
		if err == nil {
			return result, nil
		}
		if !models.IsQuota(err) || tries >= c.MaxRetries {
			return models.EditResult{}, err
		}

		wait := delay
		if hint := models.RetryHint(err); hint > 0 {
			wait = hint
		}
		if c.MaxWait > 0 && wait > c.MaxWait {
			wait = c.MaxWait
		}
		tries++
		if c.OnRetry != nil {
			c.OnRetry(tries, wait, err)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return models.EditResult{}, err
		}
		delay *= 2
	}
}

// Sleep blocks for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var retryDelayPattern = regexp.MustCompile(`([0-9.]+)s`)

// ParseRetryDelay converts a duration string such as "40s" or "2.5s" into a
// whole number of milliseconds, rounded up and capped at MaxRetryDelay. It
// returns 0 when the value cannot be parsed.
func ParseRetryDelay(raw string) time.Duration {
	match := retryDelayPattern.FindStringSubmatch(raw)
	if match == nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	if seconds >= MaxRetryDelay.Seconds() {
		return MaxRetryDelay
	}
	ms := math.Ceil(seconds * 1000)
	return time.Duration(ms) * time.Millisecond
}
