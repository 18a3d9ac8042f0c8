package cloud

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"walvault/internal/logger"
)

// retryPolicy bounds the backoff loop around one remote operation.
type retryPolicy struct {
	attempts    uint64 // retries after the first try
	initial     time.Duration
	maxInterval time.Duration
	maxElapsed  time.Duration
}

func defaultPolicy() retryPolicy {
	return retryPolicy{
		attempts:    5,
		initial:     500 * time.Millisecond,
		maxInterval: 30 * time.Second,
		maxElapsed:  5 * time.Minute,
	}
}

// withRetry runs fn under exponential backoff. Credential and
// addressing errors abort immediately; everything else is assumed
// transient.
func withRetry(ctx context.Context, log logger.Logger, op string, pol retryPolicy, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pol.initial
	bo.MaxInterval = pol.maxInterval
	bo.MaxElapsedTime = pol.maxElapsed

	wrapped := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if permanentFailure(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("Remote operation failed, retrying",
			"op", op, "wait", wait.Round(time.Millisecond), "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(bo, pol.attempts), ctx)
	return backoff.RetryNotify(wrapped, b, notify)
}

// permanentFailure reports whether err cannot succeed on retry.
// Credential, permission and addressing problems stay broken no matter
// how often we reconnect.
func permanentFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"access denied",
		"accessdenied",
		"forbidden",
		"unauthorized",
		"invalid credentials",
		"invalid access key",
		"signaturedoesnotmatch",
		"nosuchbucket",
		"no such bucket",
		"permission denied",
		"no such file or directory",
		"unable to authenticate",
		"no supported methods remain",
		"knownhosts: key mismatch",
		"invalid argument",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
