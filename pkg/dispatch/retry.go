package dispatch

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/config"
	"github.com/a5c-ai/babysitter/pkg/logger"
)

// ErrMalformedOutput marks model output that is not a JSON object matching
// the task's schema. Such failures are retried.
var ErrMalformedOutput = errors.New("malformed task output")

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrMalformedOutput) {
		return true
	}
	return isAnthropicRetryable(err) || isOpenAIRetryable(err) || isGoogleRetryable(err)
}

func withRetry(ctx context.Context, cfg config.RetryConfig, operation func() error) error {
	if cfg.Attempts <= 1 {
		return operation()
	}

	var delayType retry.DelayTypeFunc
	switch cfg.BackoffType {
	case "fixed":
		delayType = retry.FixedDelay
	default:
		delayType = retry.BackOffDelay
	}

	var originalErrors []error
	err := retry.Do(
		func() error {
			err := operation()
			if err != nil {
				originalErrors = append(originalErrors, err)
			}
			return err
		},
		retry.RetryIf(isRetryableError),
		retry.Attempts(uint(cfg.Attempts)),
		retry.Delay(time.Duration(cfg.InitialDelay)*time.Millisecond),
		retry.DelayType(delayType),
		retry.MaxDelay(time.Duration(cfg.MaxDelay)*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).
				WithField("attempt", n+1).
				WithField("max_attempts", cfg.Attempts).
				Warn("retrying agent dispatch")
		}),
	)
	if err != nil {
		if len(originalErrors) > 1 {
			return errors.Wrapf(err, "all %d retry attempts failed, original errors: %v", len(originalErrors), originalErrors)
		}
		return err
	}
	return nil
}
