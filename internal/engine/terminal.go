package engine

import (
	"encoding/json"

	"github.com/koopa0/system-design/14-realtime-sync/internal/ball"
	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	"github.com/koopa0/system-design/14-realtime-sync/internal/transport"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
)

// EventFrame 權威終端每個 tick 的畫面
const EventFrame = "frame"

// defaultPaddle 球拍初始位置（場地中央）
const defaultPaddle = 0.5

// PaddleInput 客戶端的球拍位置
type PaddleInput struct {
	Paddle float64 `json:"paddle"`
}

// Frame 伺服器算出的一幀
type Frame struct {
	Tick    uint64                  `json:"tick"`
	Ball    ball.Ball               `json:"ball"`
	Paddles map[player.Side]float64 `json:"paddles"`
}

// Terminal 權威伺服器、客戶端只是終端
//
// 客戶端上傳球拍位置，伺服器推進球並廣播整幀。
// 可重用：Stop 之後重新 AddSocket 再 Start 即可，球拍位置跨輪保留。
type Terminal struct {
	host    Host
	opts    Options
	sockets bindings
	clock   clock

	tick    uint64
	paddles map[player.Side]float64
}

var _ Engine = (*Terminal)(nil)

// NewTerminal 創建權威終端引擎
func NewTerminal(host Host, opts Options) *Terminal {
	return &Terminal{
		host:    host,
		opts:    opts.withDefaults(),
		sockets: make(bindings, player.Capacity),
		paddles: make(map[player.Side]float64, player.Capacity),
	}
}

func (e *Terminal) AddSocket(sock transport.Socket, side player.Side) error {
	if !side.Valid() {
		return apperrors.ErrInvalidInput.WithDetails("side " + string(side))
	}

	e.sockets[side] = sock
	if _, ok := e.paddles[side]; !ok {
		e.paddles[side] = defaultPaddle
	}
	sock.On(EventInput, func(raw json.RawMessage) {
		e.host.Dispatch(func() { e.handleInput(side, sock, raw) })
	})
	return nil
}

func (e *Terminal) Start() error {
	if !e.sockets.ready() {
		return apperrors.ErrEngineNotReady
	}
	if e.clock.start(e.host, e.opts.TickInterval, e.onTick) {
		e.tick = 0
	}
	return nil
}

func (e *Terminal) Stop() {
	e.clock.stop()
}

// Running 計時器是否在運行
func (e *Terminal) Running() bool {
	return e.clock.running()
}

// Paddle 某一側目前的球拍位置
func (e *Terminal) Paddle(side player.Side) float64 {
	return e.paddles[side]
}

func (e *Terminal) handleInput(side player.Side, sock transport.Socket, raw json.RawMessage) {
	if !e.sockets.current(side, sock) {
		return
	}

	var in PaddleInput
	if err := json.Unmarshal(raw, &in); err != nil {
		e.host.Logger().Debug("無效的球拍輸入", "side", side, "error", err)
		return
	}
	e.paddles[side] = clamp(in.Paddle)
}

func (e *Terminal) onTick() {
	b := e.host.Ball()
	b.Advance(e.opts.TickInterval.Seconds())
	e.tick++

	e.sockets.broadcast(e.host.Logger(), EventFrame, Frame{
		Tick:    e.tick,
		Ball:    b.Snapshot(),
		Paddles: e.paddles,
	})
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
