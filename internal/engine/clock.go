package engine

import (
	"context"
	"time"
)

// clock 權威引擎的模擬計時器
//
// tick 在獨立 goroutine 觸發，但 fn 透過 Host.Dispatch 在迴圈內執行。
// stop 只取消 context 不等待 goroutine，因為 stop 本身就在迴圈內呼叫；
// 已排入迴圈的舊 tick 執行時會看到 context 已取消而直接返回。
type clock struct {
	cancel context.CancelFunc
}

func (c *clock) running() bool {
	return c.cancel != nil
}

// start 啟動計時器，已在運行時返回 false
func (c *clock) start(host Host, interval time.Duration, fn func()) bool {
	if c.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok := host.Dispatch(func() {
					if ctx.Err() != nil {
						return
					}
					fn()
				})
				if !ok {
					return
				}
			}
		}
	}()
	return true
}

func (c *clock) stop() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
