package room

import (
	"fmt"

	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
)

// State 房間生命週期狀態
//
// 有限狀態機：
//
//	Empty ──join──▶ Waiting ──join──▶ Active
//	  ▲               │  ▲              │
//	  └────leave──────┘  └────leave─────┘
//	  (fullReset)          (softReset)
//
// 轉換規則：
//   - Empty/Waiting + join 後 1 人 → Waiting
//   - Waiting + join 後 2 人 → Active，觸發 start
//   - Active + leave 後 1 人 → Waiting，觸發 softReset（停止引擎、新球、state_reset）
//   - Waiting + leave 後 0 人 → Empty，觸發 fullReset（新註冊表、新球、新引擎）
type State string

const (
	StateEmpty   State = "empty"
	StateWaiting State = "waiting"
	StateActive  State = "active"
)

// trigger 驅動狀態轉換的事件
type trigger int

const (
	triggerJoin trigger = iota
	triggerLeave
)

func (t trigger) String() string {
	switch t {
	case triggerJoin:
		return "join"
	case triggerLeave:
		return "leave"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

// effect 轉換後房間要執行的動作
type effect int

const (
	effectNone effect = iota
	effectStart
	effectSoftReset
	effectFullReset
)

func (e effect) String() string {
	switch e {
	case effectNone:
		return "none"
	case effectStart:
		return "start"
	case effectSoftReset:
		return "softReset"
	case effectFullReset:
		return "fullReset"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

// transition 唯一的狀態轉換函數
//
// count 是事件套用到註冊表之後的玩家數。非法組合返回錯誤，狀態不變。
func transition(from State, t trigger, count int) (State, effect, error) {
	switch t {
	case triggerJoin:
		switch {
		case count == 1 && (from == StateEmpty || from == StateWaiting):
			return StateWaiting, effectNone, nil
		case count == player.Capacity && from == StateWaiting:
			return StateActive, effectStart, nil
		case count > player.Capacity || from == StateActive:
			return from, effectNone, apperrors.ErrCapacityExceeded
		}

	case triggerLeave:
		switch {
		case from == StateEmpty:
			return from, effectNone, apperrors.ErrPlayerNotFound
		case count == 0 && from == StateWaiting:
			return StateEmpty, effectFullReset, nil
		case count == 1 && from == StateActive:
			return StateWaiting, effectSoftReset, nil
		}
	}

	return from, effectNone, apperrors.ErrInvalidInput.WithDetails(
		fmt.Sprintf("%s with %d players in %s", t, count, from))
}
