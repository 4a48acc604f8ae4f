package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
	"github.com/koopa0/system-design/14-realtime-sync/pkg/logger"
)

// 心跳與緩衝設定
//
// 時間配置原理：
//
//	writePump 每 54s 發送 Ping → 網絡傳輸 < 6s → readPump 60s 超時
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Conn 基於 gorilla/websocket 的 Socket 實作
//
// 每個連線兩個 goroutine：
//   - readPump：讀取訊息、分派處理器、偵測斷線
//   - writePump：序列化寫入、定期 Ping
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu           sync.Mutex
	handlers     map[string]Handler
	onDisconnect []func()
	closed       bool
	lastPing     time.Time

	done      chan struct{}
	closeOnce sync.Once
}

var _ Socket = (*Conn)(nil)

// NewConn 包裝已升級的連線並啟動讀寫 goroutine
func NewConn(ws *websocket.Conn, log *slog.Logger) *Conn {
	id := uuid.NewString()
	c := &Conn{
		id:       id,
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		logger:   log.With("conn_id", id),
		handlers: make(map[string]Handler),
		lastPing: time.Now(),
		done:     make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()

	return c
}

// ID 連線唯一識別碼
func (c *Conn) ID() string {
	return c.id
}

// Context 返回帶有連線 ID 的上下文，供日誌使用
func (c *Conn) Context(ctx context.Context) context.Context {
	return logger.WithConnID(ctx, c.id)
}

// Done 連線結束時關閉
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// LastPing 最後一次收到 Pong 的時間
func (c *Conn) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// Emit 非阻塞發送
//
// 緩衝區滿時丟棄訊息並返回錯誤，避免慢客戶端拖累整個房間。
func (c *Conn) Emit(event string, payload any) error {
	msg, err := Encode(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return apperrors.ErrConnClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("連接緩衝區滿", "event", event)
		return apperrors.ErrSendBufferFull
	}
}

// On 註冊事件處理器
func (c *Conn) On(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

// OnDisconnect 註冊斷線回呼
func (c *Conn) OnDisconnect(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		go fn()
		return
	}
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

// Close 關閉連線，斷線回呼只會執行一次
func (c *Conn) Close() error {
	c.shutdown()
	return nil
}

// shutdown 關閉發送通道並通知斷線
//
// 先在鎖內標記 closed，之後的 Emit 不會再寫入已關閉的 channel。
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		callbacks := c.onDisconnect
		c.onDisconnect = nil
		c.mu.Unlock()

		close(c.done)

		for _, fn := range callbacks {
			fn()
		}
	})
}

// readPump 讀取客戶端消息
func (c *Conn) readPump() {
	defer func() {
		c.shutdown()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.ws.SetPongHandler(func(string) error {
		if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket 讀取錯誤", "error", err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.dispatch(message)
		}
	}
}

// dispatch 解析信封並呼叫處理器
func (c *Conn) dispatch(message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Error("解析客戶端消息失敗", "error", err)
		return
	}

	if env.Event == EventPing {
		if err := c.Emit(EventPong, nil); err != nil {
			c.logger.Debug("回應 pong 失敗", "error", err)
		}
		return
	}

	c.mu.Lock()
	handler, ok := c.handlers[env.Event]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("收到未知消息類型", "event", env.Event)
		return
	}
	handler(env.Data)
}

// writePump 寫入消息到客戶端
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 通道已關閉，嘗試發送關閉消息，忽略錯誤（連接可能已關閉）
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("發送消息失敗", "error", err)
				c.shutdown()
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

// Upgrader 將 HTTP 請求升級為 Conn
type Upgrader struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewUpgrader 創建升級器
//
// checkOrigin 為 nil 時接受所有來源。
func NewUpgrader(checkOrigin func(r *http.Request) bool, log *slog.Logger) *Upgrader {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Upgrader{
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: log,
	}
}

// Upgrade 升級連線並啟動讀寫 goroutine
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade websocket: %w", err)
	}
	return NewConn(ws, u.logger), nil
}

// Reject 以關閉幀拒絕已升級的連線
func (c *Conn) Reject(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.shutdown()
}
