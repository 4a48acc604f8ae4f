// Package status 對外回報房間的生命週期狀態
//
// 房間在狀態轉換時產生 Status，Reporter 以非同步方式寫入各個 Sink：
//
//	Room ──Report──▶ Reporter(緩衝) ──▶ RedisStore（目前佔用情況）
//	                                └─▶ NATSPublisher（生命週期事件）
//
// 回報是盡力而為的，緩衝區滿時直接丟棄，不影響房間的事件迴圈。
package status

import (
	"context"
	"errors"
	"time"
)

// Event 觸發回報的生命週期事件
type Event string

const (
	EventOpened       Event = "opened"
	EventPlayerJoined Event = "player_joined"
	EventPlayerLeft   Event = "player_left"
	EventStarted      Event = "started"
	EventReset        Event = "reset"
	EventClosed       Event = "closed"
)

// Status 房間在某個時間點的對外狀態
type Status struct {
	Room      string    `json:"room"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	Players   int       `json:"players"`
	Started   bool      `json:"started"`
	Empty     bool      `json:"empty"`
	Epoch     uint64    `json:"epoch"`
	Event     Event     `json:"event,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recorder 房間依賴的回報介面
type Recorder interface {
	Report(s Status)
}

// Nop 丟棄所有回報
type Nop struct{}

func (Nop) Report(Status) {}

// Sink 回報的目的地
type Sink interface {
	Write(ctx context.Context, s Status) error
}

// Multi 依序寫入多個 Sink，回傳所有錯誤
type Multi []Sink

func (m Multi) Write(ctx context.Context, s Status) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Write(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
