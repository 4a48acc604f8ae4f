// Package lobby 管理具名房間，並把連線路由到房間
package lobby

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-realtime-sync/internal/engine"
	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	"github.com/koopa0/system-design/14-realtime-sync/internal/room"
	"github.com/koopa0/system-design/14-realtime-sync/internal/status"
	"github.com/koopa0/system-design/14-realtime-sync/internal/transport"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
	applog "github.com/koopa0/system-design/14-realtime-sync/pkg/logger"
)

// Config 房間管理器配置
type Config struct {
	// SettleDelay 傳給每個房間的穩定期
	SettleDelay time.Duration
	Engine      engine.Options
	// EmptyTTL 空房間保留時間，0 表示不清理
	EmptyTTL time.Duration
	// CleanupInterval 清理掃描間隔
	CleanupInterval time.Duration
}

// DefaultConfig 預設配置
func DefaultConfig() Config {
	return Config{
		SettleDelay:     room.DefaultSettleDelay,
		Engine:          engine.DefaultOptions(),
		EmptyTTL:        5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// entry 房間與管理資訊
type entry struct {
	room   *room.Room
	pinned bool // 啟動時開啟的房間不會被清理
}

// Manager 房間管理器
type Manager struct {
	cfg      Config
	rooms    map[string]*entry // name -> room
	mu       sync.RWMutex
	reporter status.Recorder
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager 創建房間管理器
func NewManager(cfg Config, reporter status.Recorder, logger *slog.Logger) *Manager {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if reporter == nil {
		reporter = status.Nop{}
	}
	if logger == nil {
		logger = applog.Nop()
	}

	m := &Manager{
		cfg:      cfg,
		rooms:    make(map[string]*entry),
		reporter: reporter,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	// 啟動清理 goroutine
	if cfg.EmptyTTL > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}

	return m
}

// CreateRoom 創建房間
func (m *Manager) CreateRoom(name, typ string) (*room.Room, error) {
	return m.create(name, typ, false)
}

// OpenRoom 創建常駐房間（不會因為閒置被清理）
func (m *Manager) OpenRoom(name, typ string) (*room.Room, error) {
	return m.create(name, typ, true)
}

func (m *Manager) create(name, typ string, pinned bool) (*room.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ErrInvalidInput.WithDetails("room name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[name]; exists {
		return nil, apperrors.ErrRoomExists.WithDetails(name)
	}

	r, err := room.New(room.Options{
		Name:        name,
		Type:        typ,
		SettleDelay: m.cfg.SettleDelay,
		Engine:      m.cfg.Engine,
		Logger:      m.logger,
		Reporter:    m.reporter,
	})
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", name, err)
	}

	m.rooms[name] = &entry{room: r, pinned: pinned}

	m.logger.Info("房間已創建", "room", name, "mode", r.Mode(), "pinned", pinned)
	return r, nil
}

// GetRoom 獲取房間
func (m *Manager) GetRoom(name string) (*room.Room, error) {
	m.mu.RLock()
	e, exists := m.rooms[name]
	m.mu.RUnlock()

	if !exists {
		return nil, apperrors.ErrRoomNotFound.WithDetails(name)
	}
	return e.room, nil
}

// Join 把連線加入指定房間
func (m *Manager) Join(name string, sock transport.Socket) (player.Transmission, error) {
	r, err := m.GetRoom(name)
	if err != nil {
		return player.Transmission{}, err
	}

	tx, err := r.AddPlayer(sock)
	if err != nil {
		return player.Transmission{}, fmt.Errorf("join room %s: %w", name, err)
	}
	return tx, nil
}

// RemoveRoom 關閉並移除房間，房內連線會被斷開
func (m *Manager) RemoveRoom(name string) error {
	m.mu.Lock()
	e, exists := m.rooms[name]
	if exists {
		delete(m.rooms, name)
	}
	m.mu.Unlock()

	if !exists {
		return apperrors.ErrRoomNotFound.WithDetails(name)
	}

	e.room.Close()
	m.logger.Info("房間已移除", "room", name)
	return nil
}

// ListRooms 列出房間（依名稱排序），mode 為空表示全部
func (m *Manager) ListRooms(mode engine.Mode, page, limit int) ([]status.Status, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	m.mu.RLock()
	filtered := make([]*room.Room, 0, len(m.rooms))
	for _, e := range m.rooms {
		if mode != "" && e.room.Mode() != mode {
			continue
		}
		filtered = append(filtered, e.room)
	}
	m.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Name() < filtered[j].Name()
	})

	total := len(filtered)

	// 分頁
	start := (page - 1) * limit
	end := start + limit
	if start >= total {
		return []status.Status{}, total
	}
	if end > total {
		end = total
	}

	result := make([]status.Status, 0, end-start)
	for _, r := range filtered[start:end] {
		result = append(result, r.Status())
	}
	return result, total
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	rooms := make([]*room.Room, 0, len(m.rooms))
	for _, e := range m.rooms {
		rooms = append(rooms, e.room)
	}
	m.mu.RUnlock()

	stateCount := make(map[string]int)
	modeCount := make(map[string]int)
	totalPlayers := 0

	for _, r := range rooms {
		st := r.Status()
		stateCount[st.State]++
		modeCount[st.Mode]++
		totalPlayers += st.Players
	}

	return map[string]any{
		"total_rooms":   len(rooms),
		"total_players": totalPlayers,
		"by_state":      stateCount,
		"by_mode":       modeCount,
	}
}

// cleanupLoop 定期清理閒置房間
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.stopCh:
			return
		}
	}
}

// Cleanup 移除空置超過 EmptyTTL 的非常駐房間，返回移除數量
func (m *Manager) Cleanup() int {
	if m.cfg.EmptyTTL <= 0 {
		return 0
	}

	m.mu.RLock()
	var candidates []string
	for name, e := range m.rooms {
		if e.pinned {
			continue
		}
		if since, idle := e.room.IdleSince(); idle && time.Since(since) > m.cfg.EmptyTTL {
			candidates = append(candidates, name)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for _, name := range candidates {
		if err := m.RemoveRoom(name); err == nil {
			removed++
			m.logger.Info("閒置房間已清理", "room", name)
		}
	}
	return removed
}

// Stop 停止管理器並關閉所有房間
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range rooms {
		e.room.Close()
	}

	m.logger.Info("房間管理器已停止", "closed_rooms", len(rooms))
}
