package status

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize 預設回報緩衝
const DefaultBufferSize = 256

// writeTimeout 單次寫入 Sink 的期限
const writeTimeout = 2 * time.Second

// Reporter 非同步回報器
//
// Report 不阻塞：緩衝區滿時丟棄並計數。單一 worker 依序寫入，
// 同一房間的回報順序與產生順序一致。
type Reporter struct {
	sink   Sink
	queue  chan Status
	logger *slog.Logger

	dropped atomic.Uint64
	written atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ Recorder = (*Reporter)(nil)

// NewReporter 創建回報器並啟動 worker
func NewReporter(logger *slog.Logger, bufferSize int, sinks ...Sink) *Reporter {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	r := &Reporter{
		sink:   Multi(sinks),
		queue:  make(chan Status, bufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Report 排入一筆回報
func (r *Reporter) Report(s Status) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.queue <- s:
	default:
		r.dropped.Add(1)
		r.logger.Debug("狀態回報緩衝區滿，丟棄", "room", s.Room, "event", s.Event)
	}
}

// Dropped 被丟棄的回報數
func (r *Reporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Written 成功寫入的回報數
func (r *Reporter) Written() uint64 {
	return r.written.Load()
}

// Close 停止接收並寫完緩衝中的回報
func (r *Reporter) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Reporter) run() {
	defer close(r.done)

	for s := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.sink.Write(ctx, s)
		cancel()

		if err != nil {
			r.logger.Warn("寫入房間狀態失敗", "room", s.Room, "event", s.Event, "error", err)
			continue
		}
		r.written.Add(1)
	}
}
