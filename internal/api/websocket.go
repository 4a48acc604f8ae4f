package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-realtime-sync/internal/lobby"
	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	"github.com/koopa0/system-design/14-realtime-sync/internal/transport"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
)

// WebSocketHub WebSocket 連接中心
//
// Hub 只負責入口與連線追蹤：
//   - 升級前先檢查房間是否存在、是否已滿（404 / 409）
//   - 升級後把連線交給房間，房間負責之後所有事件
//   - 兩個連線同時搶最後一個座位時，輸的那個以關閉幀拒絕
//
// 連接映射：map[roomName]map[connID]*transport.Conn
type WebSocketHub struct {
	manager     *lobby.Manager
	upgrader    *transport.Upgrader
	logger      *slog.Logger
	connections map[string]map[string]*transport.Conn // roomName -> connID -> Conn
	mu          sync.RWMutex
	stopped     bool
}

// NewWebSocketHub 創建 WebSocket Hub
//
// allowedOrigins 為空時接受所有來源。
func NewWebSocketHub(manager *lobby.Manager, allowedOrigins []string, logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		manager:     manager,
		upgrader:    transport.NewUpgrader(originChecker(allowedOrigins), logger),
		logger:      logger,
		connections: make(map[string]map[string]*transport.Conn),
	}
}

// originChecker 來源白名單
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

// ServeWS 處理 WebSocket 連接
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("room_name")
	if name == "" {
		http.Error(w, "缺少房間名稱", http.StatusBadRequest)
		return
	}

	hub.mu.RLock()
	stopped := hub.stopped
	hub.mu.RUnlock()
	if stopped {
		http.Error(w, "服務關閉中", http.StatusServiceUnavailable)
		return
	}

	rm, err := hub.manager.GetRoom(name)
	if err != nil {
		http.Error(w, "房間不存在", http.StatusNotFound)
		return
	}
	if rm.PlayerCount() >= player.Capacity {
		http.Error(w, "房間已滿", http.StatusConflict)
		return
	}

	// 升級為 WebSocket 連接
	conn, err := hub.upgrader.Upgrade(w, r)
	if err != nil {
		hub.logger.ErrorContext(r.Context(), "升級 WebSocket 失敗", "error", err)
		return
	}
	ctx := conn.Context(r.Context())

	hub.register(name, conn)
	conn.OnDisconnect(func() {
		hub.unregister(name, conn)
	})

	tx, err := hub.manager.Join(name, conn)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if apperrors.IsCapacityExceeded(err) {
			code = websocket.CloseTryAgainLater
		}
		hub.logger.WarnContext(ctx, "加入房間失敗", "room", name, "error", err)
		conn.Reject(code, apperrors.Code(err))
		return
	}

	hub.logger.InfoContext(ctx, "WebSocket 連接建立",
		"room", name,
		"side", tx.Side)
}

// register 註冊連接
func (hub *WebSocketHub) register(name string, conn *transport.Conn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.connections[name] == nil {
		hub.connections[name] = make(map[string]*transport.Conn)
	}
	hub.connections[name][conn.ID()] = conn
}

// unregister 取消註冊連接
func (hub *WebSocketHub) unregister(name string, conn *transport.Conn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if roomConns, exists := hub.connections[name]; exists {
		if actual, exists := roomConns[conn.ID()]; exists && actual == conn {
			delete(roomConns, conn.ID())

			// 如果房間沒有連接了，清理映射
			if len(roomConns) == 0 {
				delete(hub.connections, name)
			}
		}
	}
}

// Stop 停止 WebSocket Hub 並關閉所有連接
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	hub.stopped = true
	conns := make([]*transport.Conn, 0)
	for _, roomConns := range hub.connections {
		for _, conn := range roomConns {
			conns = append(conns, conn)
		}
	}
	hub.mu.Unlock()

	// 在鎖外關閉，斷線回呼會呼叫 unregister
	for _, conn := range conns {
		_ = conn.Close()
	}

	hub.logger.Info("WebSocket Hub 已停止", "closed_connections", len(conns))
}

// GetConnectionCount 獲取每個房間的連接數
func (hub *WebSocketHub) GetConnectionCount() map[string]int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	result := make(map[string]int)
	for name, conns := range hub.connections {
		result[name] = len(conns)
	}
	return result
}
