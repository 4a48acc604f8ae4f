// Package testutils 提供測試用的共用假物件
//
//   - Socket：記錄所有發送事件、可手動觸發客戶端事件與斷線
//   - Host：以互斥鎖序列化的引擎宿主
package testutils

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-realtime-sync/internal/transport"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
)

// Emitted 一筆發送紀錄
type Emitted struct {
	Event   string
	Payload json.RawMessage
}

// Socket 記憶體中的假連線
type Socket struct {
	id string

	mu           sync.Mutex
	cond         *sync.Cond
	emitted      []Emitted
	handlers     map[string]transport.Handler
	onDisconnect []func()
	closed       bool
}

var _ transport.Socket = (*Socket)(nil)

// NewSocket 創建假連線
func NewSocket(id string) *Socket {
	s := &Socket{
		id:       id,
		handlers: make(map[string]transport.Handler),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Socket) ID() string { return s.id }

// Emit 記錄事件；負載先序列化，與真實連線的行為一致
func (s *Socket) Emit(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.ErrConnClosed
	}
	s.emitted = append(s.emitted, Emitted{Event: event, Payload: b})
	s.cond.Broadcast()
	return nil
}

func (s *Socket) On(event string, handler transport.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = handler
}

func (s *Socket) OnDisconnect(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		go fn()
		return
	}
	s.onDisconnect = append(s.onDisconnect, fn)
	s.mu.Unlock()
}

func (s *Socket) Close() error {
	s.Disconnect()
	return nil
}

// Disconnect 模擬客戶端斷線，同步執行所有斷線回呼
func (s *Socket) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	callbacks := s.onDisconnect
	s.onDisconnect = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Trigger 模擬客戶端發送事件
func (s *Socket) Trigger(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	handler, ok := s.handlers[event]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("no handler for %s", event)
	}
	handler(b)
	return nil
}

// HasHandler 是否已註冊事件處理器
func (s *Socket) HasHandler(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handlers[event]
	return ok
}

// Events 所有已發送事件（依順序）
func (s *Socket) Events() []Emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Emitted, len(s.emitted))
	copy(out, s.emitted)
	return out
}

// Count 指定事件的發送次數
func (s *Socket) Count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.emitted {
		if e.Event == event {
			n++
		}
	}
	return n
}

// Last 最後一次發送的指定事件
func (s *Socket) Last(event string) (Emitted, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.emitted) - 1; i >= 0; i-- {
		if s.emitted[i].Event == event {
			return s.emitted[i], true
		}
	}
	return Emitted{}, false
}

// WaitFor 等待第 n 次（從 1 起算）指定事件出現
func (s *Socket) WaitFor(event string, n int, timeout time.Duration) (Emitted, bool) {
	deadline := time.Now().Add(timeout)

	// sync.Cond 沒有超時，用計時器喚醒
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		seen := 0
		for _, e := range s.emitted {
			if e.Event == event {
				seen++
				if seen == n {
					return e, true
				}
			}
		}
		if time.Now().After(deadline) {
			return Emitted{}, false
		}
		s.cond.Wait()
	}
}

// Decode 將發送紀錄解碼到 v
func (e Emitted) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}
