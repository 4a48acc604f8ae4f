// Package player 管理房間內兩個座位（side）的分配
package player

import (
	"fmt"
	"sort"
	"time"

	"github.com/koopa0/system-design/14-realtime-sync/internal/transport"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
)

// Side 玩家座位
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Sides 依分配順序排列的所有座位
var Sides = []Side{SideA, SideB}

// Capacity 每個房間的座位數
const Capacity = 2

// Valid 是否為已知座位
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// Player 已加入房間的玩家
type Player struct {
	Side     Side
	Socket   transport.Socket
	JoinedAt time.Time
}

// Transmission 對外安全的玩家投影
type Transmission struct {
	Side Side   `json:"side"`
	ID   string `json:"id"`
}

// Transmission 返回可以發送給客戶端的投影，不含連線本身
func (p *Player) Transmission() Transmission {
	return Transmission{
		Side: p.Side,
		ID:   p.Socket.ID(),
	}
}

// Registry 玩家註冊表
//
// 不做內部同步，房間的事件迴圈保證所有操作序列化。
type Registry struct {
	players map[Side]*Player
}

// NewRegistry 創建空的註冊表
func NewRegistry() *Registry {
	return &Registry{
		players: make(map[Side]*Player, Capacity),
	}
}

// AddPlayer 分配最小的空閒座位
func (r *Registry) AddPlayer(sock transport.Socket) (*Player, error) {
	for _, side := range Sides {
		if _, taken := r.players[side]; taken {
			continue
		}
		p := &Player{
			Side:     side,
			Socket:   sock,
			JoinedAt: time.Now(),
		}
		r.players[side] = p
		return p, nil
	}
	return nil, apperrors.ErrCapacityExceeded
}

// RemovePlayer 移除指定座位的玩家
func (r *Registry) RemovePlayer(side Side) error {
	if _, ok := r.players[side]; !ok {
		return fmt.Errorf("remove side %s: %w", side, apperrors.ErrPlayerNotFound)
	}
	delete(r.players, side)
	return nil
}

// Get 取得指定座位的玩家
func (r *Registry) Get(side Side) (*Player, bool) {
	p, ok := r.players[side]
	return p, ok
}

// Count 目前玩家數量（0、1 或 2）
func (r *Registry) Count() int {
	return len(r.players)
}

// Full 兩個座位都已佔用
func (r *Registry) Full() bool {
	return len(r.players) >= Capacity
}

// Players 依座位排序的玩家快照
func (r *Registry) Players() []*Player {
	players := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].Side < players[j].Side
	})
	return players
}

// Sockets 依座位排序的連線快照
func (r *Registry) Sockets() []transport.Socket {
	players := r.Players()
	sockets := make([]transport.Socket, 0, len(players))
	for _, p := range players {
		sockets = append(sockets, p.Socket)
	}
	return sockets
}
