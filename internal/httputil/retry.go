package httputil

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig controls retry behavior for calls to the generation API.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // fraction of delay to randomize (0..1)
}

// DefaultRetryConfig returns defaults tuned for a polling client: few
// attempts, short delays. The worker's own retry budget sits above this.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    2 * time.Second,
		MaxDelay:     20 * time.Second,
		JitterFactor: 0.25,
	}
}

// Do executes an HTTP request with bounded retry. buildReq is invoked per
// attempt because request bodies are consumed on read.
//
// Retries on network errors, 429, and 5xx. Other 4xx responses are returned
// to the caller with the body intact since they will not heal on retry.
func Do(ctx context.Context, buildReq func() (*http.Request, error), cfg RetryConfig) (*http.Response, error) {
	var lastErr error

	for attempt := range cfg.MaxAttempts {
		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < cfg.MaxAttempts-1 {
				slog.Warn("api request failed, retrying",
					"attempt", attempt+1, "max", cfg.MaxAttempts, "err", err)
				if sleepErr := sleepWithContext(ctx, backoff(cfg, attempt, nil)); sleepErr != nil {
					return nil, sleepErr
				}
			}
			continue
		}

		if !retryable(resp.StatusCode) {
			return resp, nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		resp.Body.Close()
		if attempt < cfg.MaxAttempts-1 {
			delay := backoff(cfg, attempt, resp)
			slog.Warn("api returned retryable status",
				"status", resp.StatusCode, "attempt", attempt+1, "max", cfg.MaxAttempts, "delay", delay)
			if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}

	return nil, fmt.Errorf("all %d attempts exhausted: %w", cfg.MaxAttempts, lastErr)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// backoff computes the sleep before the next attempt: capped exponential
// with jitter, overridden by a Retry-After header when the server sent one.
func backoff(cfg RetryConfig, attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := retryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			return ra
		}
	}

	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	delay = math.Min(delay, float64(cfg.MaxDelay))
	delay += delay * cfg.JitterFactor * (rand.Float64()*2 - 1)
	if delay < 0 {
		delay = float64(cfg.BaseDelay)
	}
	return time.Duration(delay)
}

// retryAfter parses a Retry-After header given in seconds. Returns 0 for
// empty or unparseable values (the HTTP-date form is not used by this API).
func retryAfter(val string) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// sleepWithContext sleeps for d but returns early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
