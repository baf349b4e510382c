// Package retry is the single failure-recovery mechanism for outbound
// GitHub calls: bounded exponential backoff with a caller-controlled
// retryability predicate.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
	DefaultMultiplier   = 2.0
)

// Options configures a retry loop. Zero values select the defaults.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	IsRetryable  func(error) bool
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.Multiplier <= 0 {
		o.Multiplier = DefaultMultiplier
	}
	if o.IsRetryable == nil {
		o.IsRetryable = Retryable
	}
	return o
}

// Do runs op, retrying retryable failures with delays of
// InitialDelay*Multiplier^n between attempts. Non-retryable errors and
// the final failure are returned unwrapped. Context cancellation aborts
// the backoff sleep.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialDelay
	b.Multiplier = opts.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0

	var result T
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var opErr error
		result, opErr = op(ctx)
		if opErr == nil {
			return nil
		}
		if !opts.IsRetryable(opErr) {
			return backoff.Permanent(opErr)
		}
		return opErr
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.MaxAttempts-1)), ctx))

	return result, err
}

// Retryable is the default predicate: network-class failures, HTTP 429
// and HTTP 5xx are retryable; everything else is not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"unexpected eof",
		"timeout",
		"econn",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
