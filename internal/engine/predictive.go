package engine

import (
	"encoding/json"

	"github.com/koopa0/system-design/14-realtime-sync/internal/ball"
	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	"github.com/koopa0/system-design/14-realtime-sync/internal/transport"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
)

// Predictive 事件
const (
	EventUpdate    = "update"
	EventReconcile = "reconcile"
)

// PredictiveUpdate 客戶端預測後上傳的狀態，seq 單調遞增
type PredictiveUpdate struct {
	Seq    uint64  `json:"seq"`
	Paddle float64 `json:"paddle"`
}

// Reconcile 伺服器校正訊息
//
// Acks 是每一側最後採用的 seq，客戶端據此丟棄已確認的預測並重播其餘部分。
type Reconcile struct {
	Tick    uint64                  `json:"tick"`
	Ball    ball.Ball               `json:"ball"`
	Paddles map[player.Side]float64 `json:"paddles"`
	Acks    map[player.Side]uint64  `json:"acks"`
}

// Predictive 客戶端預測 + 伺服器校正
//
// 重用規則與 Terminal 相同；Stop 會清空確認紀錄，下一輪 seq 從頭開始。
type Predictive struct {
	host    Host
	opts    Options
	sockets bindings
	clock   clock

	tick    uint64
	paddles map[player.Side]float64
	acks    map[player.Side]uint64
}

var _ Engine = (*Predictive)(nil)

// NewPredictive 創建預測引擎
func NewPredictive(host Host, opts Options) *Predictive {
	return &Predictive{
		host:    host,
		opts:    opts.withDefaults(),
		sockets: make(bindings, player.Capacity),
		paddles: make(map[player.Side]float64, player.Capacity),
		acks:    make(map[player.Side]uint64, player.Capacity),
	}
}

func (e *Predictive) AddSocket(sock transport.Socket, side player.Side) error {
	if !side.Valid() {
		return apperrors.ErrInvalidInput.WithDetails("side " + string(side))
	}

	e.sockets[side] = sock
	if _, ok := e.paddles[side]; !ok {
		e.paddles[side] = defaultPaddle
	}
	sock.On(EventUpdate, func(raw json.RawMessage) {
		e.host.Dispatch(func() { e.handleUpdate(side, sock, raw) })
	})
	return nil
}

func (e *Predictive) Start() error {
	if !e.sockets.ready() {
		return apperrors.ErrEngineNotReady
	}
	if e.clock.start(e.host, e.opts.TickInterval, e.onTick) {
		e.tick = 0
	}
	return nil
}

func (e *Predictive) Stop() {
	e.clock.stop()
	e.acks = make(map[player.Side]uint64, player.Capacity)
}

// Running 計時器是否在運行
func (e *Predictive) Running() bool {
	return e.clock.running()
}

// Ack 某一側最後採用的 seq
func (e *Predictive) Ack(side player.Side) (uint64, bool) {
	seq, ok := e.acks[side]
	return seq, ok
}

func (e *Predictive) handleUpdate(side player.Side, sock transport.Socket, raw json.RawMessage) {
	if !e.sockets.current(side, sock) {
		return
	}

	var up PredictiveUpdate
	if err := json.Unmarshal(raw, &up); err != nil {
		e.host.Logger().Debug("無效的預測更新", "side", side, "error", err)
		return
	}
	if last, ok := e.acks[side]; ok && up.Seq <= last {
		e.host.Logger().Debug("丟棄過期更新", "side", side, "seq", up.Seq, "ack", last)
		return
	}

	e.acks[side] = up.Seq
	e.paddles[side] = clamp(up.Paddle)
}

func (e *Predictive) onTick() {
	b := e.host.Ball()
	b.Advance(e.opts.TickInterval.Seconds())
	e.tick++

	e.sockets.broadcast(e.host.Logger(), EventReconcile, Reconcile{
		Tick:    e.tick,
		Ball:    b.Snapshot(),
		Paddles: e.paddles,
		Acks:    e.acks,
	})
}
