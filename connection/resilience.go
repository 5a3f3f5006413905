package connection

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var (
	ErrMaxRetriesExceeded    = errors.New("maximum retries exceeded")
	ErrRetryContextCancelled = errors.New("retry context cancelled")
)

// 重试策略接口
type RetryPolicy interface {
	// ShouldRetry 判断是否应该重试
	ShouldRetry(attempt int, err error) bool
	// NextDelay 计算下次重试的延迟
	NextDelay(attempt int) time.Duration
	// GetMaxAttempts 返回最大尝试次数（包含第一次）
	GetMaxAttempts() int
}

// 指数退避重试策略
type ExponentialBackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BackoffRate float64
	MaxAttempts int
	Jitter      bool
	// Retryable 为nil时所有错误都可重试
	Retryable func(err error) bool
}

func (p *ExponentialBackoffPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func (p *ExponentialBackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.BackoffRate)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}

	// 添加抖动避免惊群效应
	if p.Jitter {
		jitter := time.Duration(float64(delay) * 0.1 * (0.5 - rand.Float64())) // ±5%
		delay += jitter
	}

	return delay
}

func (p *ExponentialBackoffPolicy) GetMaxAttempts() int {
	return p.MaxAttempts
}

// 重试器
type Retrier struct {
	policy  RetryPolicy
	timeout time.Duration
	onRetry func(attempt int, err error)
}

func NewRetrier(policy RetryPolicy, timeout time.Duration) *Retrier {
	return &Retrier{
		policy:  policy,
		timeout: timeout,
	}
}

func (r *Retrier) WithRetryCallback(callback func(attempt int, err error)) *Retrier {
	r.onRetry = callback
	return r
}

// Execute 执行操作并自动重试。只尝试一次且失败时原样返回错误
func (r *Retrier) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	maxAttempts := r.policy.GetMaxAttempts()
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr == nil {
				return fmt.Errorf("%w: %w", ErrRetryContextCancelled, ctx.Err())
			}
			break
		}

		attempts++
		lastErr = operation(ctx)
		if lastErr == nil {
			return nil
		}

		if !r.policy.ShouldRetry(attempt+1, lastErr) {
			break
		}

		// 调用重试回调
		if r.onRetry != nil {
			r.onRetry(attempt+1, lastErr)
		}

		// 等待重试间隔
		if delay := r.policy.NextDelay(attempt + 1); delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrRetryContextCancelled, lastErr)
			case <-time.After(delay):
			}
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempts, lastErr)
}
