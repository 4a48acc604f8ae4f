package engine

import (
	"encoding/json"

	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	"github.com/koopa0/system-design/14-realtime-sync/internal/transport"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
)

// Lockstep 事件
const (
	EventInput = "input"
	EventStep  = "step"
)

// LockstepInput 客戶端送來的某一步輸入
type LockstepInput struct {
	Step  int             `json:"step"`
	Input json.RawMessage `json:"input"`
}

// LockstepStep 兩邊輸入都到齊後廣播的一步
type LockstepStep struct {
	Step   int                             `json:"step"`
	Inputs map[player.Side]json.RawMessage `json:"inputs"`
}

// Lockstep 確定性鎖步同步
//
// 伺服器不模擬，只負責收齊兩邊同一步的輸入再一起轉發。
// 單次使用：Stop 之後不能再 Start，房間在任何玩家離開時都會重建它。
type Lockstep struct {
	host    Host
	opts    Options
	sockets bindings

	step    int
	pending map[int]map[player.Side]json.RawMessage
	running bool
	stopped bool
}

var _ Engine = (*Lockstep)(nil)

// NewLockstep 創建鎖步引擎
func NewLockstep(host Host, opts Options) *Lockstep {
	return &Lockstep{
		host:    host,
		opts:    opts.withDefaults(),
		sockets: make(bindings, player.Capacity),
		pending: make(map[int]map[player.Side]json.RawMessage),
	}
}

func (e *Lockstep) AddSocket(sock transport.Socket, side player.Side) error {
	if e.stopped {
		return apperrors.ErrEngineStopped
	}
	if !side.Valid() {
		return apperrors.ErrInvalidInput.WithDetails("side " + string(side))
	}

	e.sockets[side] = sock
	sock.On(EventInput, func(raw json.RawMessage) {
		e.host.Dispatch(func() { e.handleInput(side, sock, raw) })
	})
	return nil
}

func (e *Lockstep) Start() error {
	if e.stopped {
		return apperrors.ErrEngineStopped
	}
	if !e.sockets.ready() {
		return apperrors.ErrEngineNotReady
	}
	if e.running {
		return nil
	}
	e.running = true
	e.advance()
	return nil
}

func (e *Lockstep) Stop() {
	e.stopped = true
	e.running = false
	e.pending = nil
}

// Step 下一個等待輸入的步數
func (e *Lockstep) Step() int {
	return e.step
}

// handleInput 緩衝輸入，開始前收到的也保留
func (e *Lockstep) handleInput(side player.Side, sock transport.Socket, raw json.RawMessage) {
	if e.stopped || !e.sockets.current(side, sock) {
		return
	}

	var in LockstepInput
	if err := json.Unmarshal(raw, &in); err != nil {
		e.host.Logger().Debug("無效的 lockstep 輸入", "side", side, "error", err)
		return
	}
	if in.Step < e.step || in.Step >= e.step+e.opts.StepWindow {
		e.host.Logger().Debug("丟棄窗口外輸入", "side", side, "step", in.Step, "current", e.step)
		return
	}

	inputs, ok := e.pending[in.Step]
	if !ok {
		inputs = make(map[player.Side]json.RawMessage, player.Capacity)
		e.pending[in.Step] = inputs
	}
	inputs[side] = in.Input

	if e.running {
		e.advance()
	}
}

// advance 連續廣播所有已收齊的步
func (e *Lockstep) advance() {
	for {
		inputs := e.pending[e.step]
		if len(inputs) < player.Capacity {
			return
		}
		delete(e.pending, e.step)
		e.sockets.broadcast(e.host.Logger(), EventStep, LockstepStep{
			Step:   e.step,
			Inputs: inputs,
		})
		e.step++
	}
}
