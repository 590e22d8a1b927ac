package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy 单个调用点的超时与重试策略
type Policy struct {
	Timeout     time.Duration
	MaxAttempts int  // 含首次调用
	Retryable   bool // 仅幂等操作允许重试
	BaseBackoff time.Duration
}

// SingleAttempt 不重试的策略
func SingleAttempt(timeout time.Duration) Policy {
	return Policy{Timeout: timeout, MaxAttempts: 1}
}

// RetryIdempotent 幂等操作的重试策略
func RetryIdempotent(timeout time.Duration, attempts int) Policy {
	if attempts < 1 {
		attempts = 1
	}
	return Policy{Timeout: timeout, MaxAttempts: attempts, Retryable: true, BaseBackoff: 200 * time.Millisecond}
}

// Call 按策略执行外部调用：每次尝试独立超时，错误归一化，拒绝类错误不重试
func Call[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		callCtx := ctx
		if policy.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
			defer cancel()
		}
		result, err := fn(callCtx)
		if err != nil {
			if callCtx.Err() != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrProviderTimeout) {
				err = errors.Join(ErrProviderTimeout, err)
			}
			err = Normalize(err)
			if !policy.Retryable || errors.Is(err, ErrProviderRejected) {
				return result, backoff.Permanent(err)
			}
		}
		return result, err
	}

	if !policy.Retryable || policy.MaxAttempts <= 1 {
		result, err := attempt()
		return result, unwrapPermanent(err)
	}

	expo := backoff.NewExponentialBackOff()
	if policy.BaseBackoff > 0 {
		expo.InitialInterval = policy.BaseBackoff
	}
	expo.MaxElapsedTime = 0
	strategy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(policy.MaxAttempts-1)), ctx)
	result, err := backoff.RetryWithData(attempt, strategy)
	return result, unwrapPermanent(err)
}

func unwrapPermanent(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
