package testutils

import (
	"log/slog"
	"sync"

	"github.com/koopa0/system-design/14-realtime-sync/internal/ball"
	"github.com/koopa0/system-design/14-realtime-sync/pkg/logger"
)

// Host 假引擎宿主
//
// Dispatch 在互斥鎖內同步執行，測試透過 Do 存取引擎，與引擎的 goroutine 序列化。
type Host struct {
	mu     sync.Mutex
	ball   *ball.Ball
	closed bool
	logger *slog.Logger
}

// NewHost 創建假宿主
func NewHost() *Host {
	return &Host{
		ball:   ball.New(),
		logger: logger.Nop(),
	}
}

// Dispatch 同步執行 fn
func (h *Host) Dispatch(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	fn()
	return true
}

// Ball 目前的共享狀態；只能在 Dispatch/Do 內呼叫
func (h *Host) Ball() *ball.Ball {
	return h.ball
}

// Logger 日誌記錄器
func (h *Host) Logger() *slog.Logger {
	return h.logger
}

// Do 在宿主鎖內執行測試程式碼
func (h *Host) Do(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

// ResetBall 替換共享狀態
func (h *Host) ResetBall() {
	h.Do(func() { h.ball = ball.New() })
}

// Close 之後的 Dispatch 都返回 false
func (h *Host) Close() {
	h.Do(func() { h.closed = true })
}
