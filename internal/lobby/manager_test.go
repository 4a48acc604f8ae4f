package lobby_test

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-realtime-sync/internal/engine"
	"github.com/koopa0/system-design/14-realtime-sync/internal/lobby"
	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	"github.com/koopa0/system-design/14-realtime-sync/internal/room"
	"github.com/koopa0/system-design/14-realtime-sync/internal/testutils"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

func testConfig() lobby.Config {
	cfg := lobby.DefaultConfig()
	cfg.SettleDelay = 10 * time.Millisecond
	cfg.EmptyTTL = 0
	return cfg
}

func newManager(t *testing.T, cfg lobby.Config) *lobby.Manager {
	t.Helper()
	m := lobby.NewManager(cfg, nil, testLogger())
	t.Cleanup(m.Stop)
	return m
}

// TestNewManager 測試創建管理器
func TestNewManager(t *testing.T) {
	m := newManager(t, testConfig())

	stats := m.Stats()
	assert.Equal(t, 0, stats["total_rooms"])
	assert.Equal(t, 0, stats["total_players"])
}

// TestManager_CreateRoom 測試創建房間
func TestManager_CreateRoom(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(m *lobby.Manager)
		roomName string
		roomType string
		validate func(t *testing.T, r *room.Room, err error)
	}{
		{
			name:     "create valid room",
			roomName: "r1",
			roomType: "lockstep",
			validate: func(t *testing.T, r *room.Room, err error) {
				require.NoError(t, err)
				assert.Equal(t, "r1", r.Name())
				assert.Equal(t, engine.ModeLockstep, r.Mode())
			},
		},
		{
			name:     "alias type",
			roomName: "r2",
			roomType: "predictive",
			validate: func(t *testing.T, r *room.Room, err error) {
				require.NoError(t, err)
				assert.Equal(t, engine.ModePredictive, r.Mode())
			},
		},
		{
			name:     "unknown type",
			roomName: "r3",
			roomType: "rollback",
			validate: func(t *testing.T, r *room.Room, err error) {
				assert.Nil(t, r)
				assert.True(t, apperrors.IsUnknownEngineType(err))
			},
		},
		{
			name:     "empty name",
			roomName: "   ",
			roomType: "lockstep",
			validate: func(t *testing.T, r *room.Room, err error) {
				assert.True(t, apperrors.IsInvalidInput(err))
			},
		},
		{
			name: "duplicate name",
			setup: func(m *lobby.Manager) {
				_, _ = m.CreateRoom("dup", "lockstep")
			},
			roomName: "dup",
			roomType: "terminalclient",
			validate: func(t *testing.T, r *room.Room, err error) {
				assert.True(t, apperrors.IsAlreadyExists(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, testConfig())
			if tt.setup != nil {
				tt.setup(m)
			}
			r, err := m.CreateRoom(tt.roomName, tt.roomType)
			tt.validate(t, r, err)
		})
	}
}

// TestManager_Join 測試連線路由到房間
func TestManager_Join(t *testing.T) {
	m := newManager(t, testConfig())
	_, err := m.CreateRoom("r1", "lockstep")
	require.NoError(t, err)

	_, err = m.Join("missing", testutils.NewSocket("x"))
	assert.True(t, apperrors.IsNotFound(err))

	a := testutils.NewSocket("a")
	tx, err := m.Join("r1", a)
	require.NoError(t, err)
	assert.Equal(t, player.SideA, tx.Side)

	tx, err = m.Join("r1", testutils.NewSocket("b"))
	require.NoError(t, err)
	assert.Equal(t, player.SideB, tx.Side)

	_, err = m.Join("r1", testutils.NewSocket("c"))
	assert.True(t, apperrors.IsCapacityExceeded(err))

	_, ok := a.WaitFor(room.EventState, 1, 2*time.Second)
	assert.True(t, ok)

	stats := m.Stats()
	assert.Equal(t, 2, stats["total_players"])
	assert.Equal(t, map[string]int{string(room.StateActive): 1}, stats["by_state"])
}

// TestManager_ListRooms 測試過濾與分頁
func TestManager_ListRooms(t *testing.T) {
	m := newManager(t, testConfig())
	for i := 0; i < 5; i++ {
		_, err := m.CreateRoom(fmt.Sprintf("lock_%d", i), "lockstep")
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := m.CreateRoom(fmt.Sprintf("term_%d", i), "terminalclient")
		require.NoError(t, err)
	}

	tests := []struct {
		name          string
		mode          engine.Mode
		page, limit   int
		expectedLen   int
		expectedTotal int
		first         string
	}{
		{name: "all rooms", page: 1, limit: 20, expectedLen: 8, expectedTotal: 8, first: "lock_0"},
		{name: "filter mode", mode: engine.ModeTerminal, page: 1, limit: 20, expectedLen: 3, expectedTotal: 3, first: "term_0"},
		{name: "second page", page: 2, limit: 3, expectedLen: 3, expectedTotal: 8, first: "lock_3"},
		{name: "last page", page: 3, limit: 3, expectedLen: 2, expectedTotal: 8, first: "term_1"},
		{name: "beyond range", page: 10, limit: 3, expectedLen: 0, expectedTotal: 8},
		{name: "defaults", page: 0, limit: 0, expectedLen: 8, expectedTotal: 8, first: "lock_0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rooms, total := m.ListRooms(tt.mode, tt.page, tt.limit)
			assert.Len(t, rooms, tt.expectedLen)
			assert.Equal(t, tt.expectedTotal, total)
			if tt.first != "" {
				require.NotEmpty(t, rooms)
				assert.Equal(t, tt.first, rooms[0].Room)
			}
		})
	}
}

// TestManager_RemoveRoom 測試移除房間會斷開連線
func TestManager_RemoveRoom(t *testing.T) {
	m := newManager(t, testConfig())
	r, err := m.CreateRoom("r1", "terminalclient")
	require.NoError(t, err)

	a := testutils.NewSocket("a")
	_, err = m.Join("r1", a)
	require.NoError(t, err)

	require.NoError(t, m.RemoveRoom("r1"))
	assert.True(t, apperrors.IsNotFound(m.RemoveRoom("r1")))

	_, err = m.GetRoom("r1")
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	assert.ErrorIs(t, a.Emit("x", nil), apperrors.ErrConnClosed)

	select {
	case <-r.Closed():
	default:
		t.Fatal("房間應該已關閉")
	}

	// 名稱可以重新使用
	_, err = m.CreateRoom("r1", "lockstep")
	assert.NoError(t, err)
}

// TestManager_Cleanup 測試閒置房間清理
func TestManager_Cleanup(t *testing.T) {
	cfg := testConfig()
	cfg.EmptyTTL = 20 * time.Millisecond
	cfg.CleanupInterval = time.Hour // 手動觸發
	m := newManager(t, cfg)

	_, err := m.CreateRoom("idle", "lockstep")
	require.NoError(t, err)
	_, err = m.OpenRoom("pinned", "lockstep")
	require.NoError(t, err)
	_, err = m.CreateRoom("busy", "lockstep")
	require.NoError(t, err)
	_, err = m.Join("busy", testutils.NewSocket("a"))
	require.NoError(t, err)

	assert.Zero(t, m.Cleanup(), "還沒超過 TTL")

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, m.Cleanup())

	_, err = m.GetRoom("idle")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = m.GetRoom("pinned")
	assert.NoError(t, err)
	_, err = m.GetRoom("busy")
	assert.NoError(t, err)
}

// TestManager_CleanupLoop 測試背景清理
func TestManager_CleanupLoop(t *testing.T) {
	cfg := testConfig()
	cfg.EmptyTTL = 10 * time.Millisecond
	cfg.CleanupInterval = 10 * time.Millisecond
	m := newManager(t, cfg)

	_, err := m.CreateRoom("idle", "predictiveclient")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := m.GetRoom("idle")
		return apperrors.IsNotFound(err)
	}, 2*time.Second, 10*time.Millisecond)
}

// TestManager_ConcurrentOperations 測試併發創建與加入
func TestManager_ConcurrentOperations(t *testing.T) {
	m := newManager(t, testConfig())

	const numRooms = 20
	var wg sync.WaitGroup
	for i := 0; i < numRooms; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("room_%d", id)
			if _, err := m.CreateRoom(name, string(engine.Modes()[id%3])); err != nil {
				t.Errorf("create %s: %v", name, err)
				return
			}
			for j := 0; j < 3; j++ {
				_, _ = m.Join(name, testutils.NewSocket(fmt.Sprintf("%s_%d", name, j)))
			}
		}(i)
	}
	wg.Wait()

	stats := m.Stats()
	assert.Equal(t, numRooms, stats["total_rooms"])
	assert.Equal(t, numRooms*2, stats["total_players"])
}

// TestManager_Stop 測試停止會關閉所有房間
func TestManager_Stop(t *testing.T) {
	m := lobby.NewManager(testConfig(), nil, testLogger())
	r, err := m.CreateRoom("r1", "lockstep")
	require.NoError(t, err)

	m.Stop()
	m.Stop() // 可重複呼叫

	select {
	case <-r.Closed():
	default:
		t.Fatal("房間應該已關閉")
	}
	assert.Equal(t, 0, m.Stats()["total_rooms"])
}
