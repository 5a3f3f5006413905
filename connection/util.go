package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// cancelGrace 调用方取消且未配置操作超时时，等待驱动调用返回的上限
const cancelGrace = 5 * time.Second

// callWithContext 在goroutine中执行阻塞的驱动调用。
// 操作超时立即返回ErrOperationTimeout，此时底层调用可能仍在运行，连接状态不可信。
// 调用方ctx结束时先等待驱动调用返回（最多一个操作超时），会话可以继续使用；
// 等不到才视为超时。
func callWithContext[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	opCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		val T
		err error
	}
	resultChan := make(chan result, 1)

	go func() {
		val, err := fn(opCtx)
		resultChan <- result{val, err}
	}()

	var zero T
	select {
	case r := <-resultChan:
		return r.val, cancelledErr(ctx, r.err)
	case <-opCtx.Done():
	}

	if ctx.Err() == nil {
		return zero, fmt.Errorf("%w: %w", ErrOperationTimeout, opCtx.Err())
	}

	grace := timeout
	if grace <= 0 {
		grace = cancelGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case r := <-resultChan:
		return r.val, cancelledErr(ctx, r.err)
	case <-timer.C:
		return zero, fmt.Errorf("%w: call did not return after %w", ErrOperationTimeout, ctx.Err())
	}
}

// cancelledErr 调用方ctx已结束时把取消原因附在驱动错误上
func cancelledErr(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil || errors.Is(err, ctx.Err()) {
		return err
	}
	return fmt.Errorf("%w: %w", ctx.Err(), err)
}

// openWithContext 与callWithContext相同，但超时后晚到的驱动会被关闭
func openWithContext(ctx context.Context, timeout time.Duration, open func() (ProtocolDriver, error)) (ProtocolDriver, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		driver ProtocolDriver
		err    error
	}
	// 无缓冲，放弃等待后由goroutine负责关闭晚到的驱动
	resultChan := make(chan result)
	abandoned := make(chan struct{})

	go func() {
		d, err := open()
		select {
		case resultChan <- result{d, err}:
		case <-abandoned:
			if d != nil {
				_ = d.Close()
			}
		}
	}()

	select {
	case <-ctx.Done():
		close(abandoned)
		return nil, fmt.Errorf("%w: %w", ErrOperationTimeout, ctx.Err())
	case r := <-resultChan:
		return r.driver, r.err
	}
}

// isConnectionLoss 判断错误是否意味着传输已不可用
func isConnectionLoss(err error) bool {
	return isTransportFailure(err) || errors.Is(err, context.DeadlineExceeded)
}

func isTransportFailure(err error) bool {
	return errors.Is(err, ErrOperationTimeout) ||
		errors.Is(err, ErrTransportLost) ||
		errors.Is(err, ErrDriverClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// isCancellation 调用方ctx结束导致的失败，传输本身仍然可用
func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && !isTransportFailure(err)
}
