package dispatch

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	xerrors "FlowAgent-Chain/internal/errors"
)

// RetryPolicy 是有界重试组合子：最多 MaxAttempts 次，每次间隔固定 Delay，
// 只有 Retryable 判定为瞬时故障的错误才会重试。
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// DefaultRetryPolicy 为 1 次尝试加 2 次重试，间隔 2 秒。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 2 * time.Second, Retryable: xerrors.IsRetryable}
}

// Do 执行 fn 直到成功、遇到不可重试错误或用尽次数。attempt 从 1 开始。
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = xerrors.IsRetryable
	}

	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		// 取消（包括用户拒绝）是终态，不再重试。
		if ctx.Err() != nil {
			return err
		}
		if retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
