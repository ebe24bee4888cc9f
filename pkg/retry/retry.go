// Package retry 提供了对外部服务调用的有界指数退避重试。
// 超时、限流等瞬时错误在适配器边界重试收敛，重试耗尽后错误向上传播。
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do 以指数退避执行 fn，最多尝试 attempts 次。
// baseDelay 为首次重试前的等待时间，之后每次翻倍。
// ctx 取消时立即返回 ctx.Err()。
func Do(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("重试 %d 次后仍然失败: %w", attempts, lastErr)
}
