package mnx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"receipt-agent/internal/domain"
)

// RetryPolicy bounds how often and how patiently a call is repeated.
// Attempt n (from 1) is followed by a wait of Base*2^(n-1) plus up to
// MaxJitter.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	MaxJitter   time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Base:        400 * time.Millisecond,
	MaxJitter:   200 * time.Millisecond,
}

// Backoff returns the wait after the given attempt; frac is the jitter
// fraction in [0, 1).
func (p RetryPolicy) Backoff(attempt int, frac float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if frac < 0 || frac >= 1 {
		frac = 0
	}
	return p.Base<<(attempt-1) + time.Duration(frac*float64(p.MaxJitter))
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// send runs r with retries. Attempts are strictly sequential: the next one
// starts only after the previous response was classified and the backoff
// elapsed. The returned cancel releases the successful attempt's context.
func (c *Client) send(ctx context.Context, r request) (*http.Response, context.CancelFunc, error) {
	cred, err := c.credentials(ctx)
	if err != nil {
		return nil, nil, err
	}

	attempts := c.retry.attempts()
	var lastErr error
	for n := 1; n <= attempts; n++ {
		if err := c.limit(ctx); err != nil {
			return nil, nil, err
		}

		start := time.Now()
		res, cancel, err := c.attempt(ctx, r, cred)
		c.logAttempt(r, n, res, time.Since(start), err)
		if err == nil {
			return res, cancel, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, nil, domain.Transport("canceled", errors.Join(ctx.Err(), err))
		}
		if !domain.IsRetryable(err) || n == attempts {
			break
		}
		if err := c.sleep(ctx, c.retry.Backoff(n, c.jitter())); err != nil {
			return nil, nil, domain.Transport("canceled", errors.Join(err, lastErr))
		}
	}
	return nil, nil, lastErr
}

func (c *Client) logAttempt(r request, n int, res *http.Response, latency time.Duration, err error) {
	attrs := []any{
		"path", r.path,
		"method", r.method,
		"attempt", n,
		"latency_ms", latency.Milliseconds(),
	}
	if res != nil {
		attrs = append(attrs, "status", res.StatusCode, "request_id", requestID(res.Header))
	} else {
		attrs = append(attrs, "status", 0, "request_id", "")
	}
	if err == nil {
		c.logger.Info("mnx: request", attrs...)
		return
	}
	attrs = append(attrs, "retryable", domain.IsRetryable(err), "err", err)
	c.logger.Warn("mnx: request failed", attrs...)
}
