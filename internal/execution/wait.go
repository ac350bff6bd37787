package execution

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// sleep 可中断的休眠。返回值为 false 表示 ctx 已取消。
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
