// Package room 實作雙人即時同步房間
//
// 核心問題：
//
//	加入、離開、引擎輸入、引擎 tick、延遲開始都是非同步事件，
//	如何在不破壞進行中狀態的前提下處理它們？
//
// 設計方案：
//   - 每個房間一個事件迴圈 goroutine，所有修改依 FIFO 順序執行
//   - 公開方法提交閉包並等待結果；引擎與計時器只提交不等待
//   - 狀態轉換集中在 transition（見 fsm.go）
//   - 延遲開始帶著排程當時的 epoch，執行前重新檢查 epoch 與人數
package room

import (
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-realtime-sync/internal/ball"
	"github.com/koopa0/system-design/14-realtime-sync/internal/engine"
	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	"github.com/koopa0/system-design/14-realtime-sync/internal/status"
	"github.com/koopa0/system-design/14-realtime-sync/internal/transport"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
	"github.com/koopa0/system-design/14-realtime-sync/pkg/logger"
)

// 房間發送給連線的事件
const (
	EventJoinedRoom = "joined_room"
	EventState      = "state"
	EventStateReset = "state_reset"
)

// DefaultSettleDelay 房間滿員到第一次廣播之間的等待
//
// 讓第二位玩家先收到自己的 joined_room，再開始收到狀態更新。
const DefaultSettleDelay = time.Second

// opsBufferSize 事件迴圈的佇列長度
const opsBufferSize = 64

// Options 房間建立參數
type Options struct {
	Name string
	// Type lockstep、terminalclient 或 predictiveclient
	Type        string
	SettleDelay time.Duration
	Engine      engine.Options
	Logger      *slog.Logger
	Reporter    status.Recorder
}

// Snapshot 對外廣播的房間狀態
type Snapshot struct {
	Players map[player.Side]player.Transmission `json:"players"`
	Ball    ball.Ball                           `json:"ball"`
	Started bool                                `json:"started"`
}

// JoinedRoom 加入成功時發送給新連線的負載
type JoinedRoom struct {
	Player player.Transmission `json:"player"`
	Room   string              `json:"room"`
	State  Snapshot            `json:"state"`
}

// Room 雙人同步房間
type Room struct {
	name        string
	mode        engine.Mode
	build       func(engine.Host, engine.Options) engine.Engine
	settleDelay time.Duration
	engineOpts  engine.Options
	logger      *slog.Logger
	reporter    status.Recorder

	ops       chan func()
	quit      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	// 以下欄位只在事件迴圈內存取
	state     State
	started   bool
	empty     bool
	registry  *player.Registry
	ball      *ball.Ball
	engine    engine.Engine
	epoch     uint64
	idleSince time.Time
	pending   *time.Timer
}

// New 創建房間並啟動事件迴圈
//
// 未知的 Type 直接返回 ErrUnknownEngineType，不會產生沒有引擎的房間。
func New(opts Options) (*Room, error) {
	mode, err := engine.ParseMode(opts.Type)
	if err != nil {
		return nil, err
	}
	build, err := engine.Builder(mode)
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		return nil, apperrors.ErrInvalidInput.WithDetails("room name is required")
	}

	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Reporter == nil {
		opts.Reporter = status.Nop{}
	}

	r := &Room{
		name:        opts.Name,
		mode:        mode,
		build:       build,
		settleDelay: opts.SettleDelay,
		engineOpts:  opts.Engine,
		logger:      opts.Logger.With("room", opts.Name, "mode", string(mode)),
		reporter:    opts.Reporter,
		ops:         make(chan func(), opsBufferSize),
		quit:        make(chan struct{}),
		exited:      make(chan struct{}),
		state:       StateEmpty,
		registry:    player.NewRegistry(),
		ball:        ball.New(),
		idleSince:   time.Now(),
	}
	r.engine = r.build(host{r}, r.engineOpts)
	r.report(status.EventOpened)

	go r.loop()
	return r, nil
}

// Name 房間名稱
func (r *Room) Name() string {
	return r.name
}

// Mode 同步模式，建立後不變
func (r *Room) Mode() engine.Mode {
	return r.mode
}

// AddPlayer 加入玩家
//
// 流程：
//  1. 註冊表分配座位（滿員返回 ErrCapacityExceeded，房間不變）
//  2. 綁定到目前的引擎
//  3. 發送 joined_room（第二位玩家看到的快照只有第一位玩家）
//  4. 綁定該座位的斷線處理
//  5. 滿 2 人時 start
func (r *Room) AddPlayer(sock transport.Socket) (player.Transmission, error) {
	var (
		tx  player.Transmission
		err error
	)
	if cerr := r.call(func() { tx, err = r.addPlayer(sock) }); cerr != nil {
		return tx, cerr
	}
	return tx, err
}

// HandleDisconnect 移除指定座位的玩家；座位已空時不做任何事
func (r *Room) HandleDisconnect(side player.Side) error {
	return r.call(func() { r.handleDisconnect(side) })
}

// Emit 廣播給所有已註冊的連線，盡力而為
func (r *Room) Emit(event string, payload any) error {
	return r.call(func() { r.emit(event, payload) })
}

// GetState 目前的快照；房間已關閉時返回空快照
func (r *Room) GetState() Snapshot {
	snap := Snapshot{Players: map[player.Side]player.Transmission{}}
	_ = r.call(func() { snap = r.snapshot() })
	return snap
}

// PlayerCount 目前玩家數
func (r *Room) PlayerCount() int {
	var n int
	_ = r.call(func() { n = r.registry.Count() })
	return n
}

// Status 對外狀態
func (r *Room) Status() status.Status {
	st := status.Status{
		Room:  r.name,
		Mode:  string(r.mode),
		State: string(StateEmpty),
	}
	_ = r.call(func() { st = r.status() })
	return st
}

// IdleSince 沒有玩家時返回變空的時間
func (r *Room) IdleSince() (time.Time, bool) {
	var (
		since time.Time
		idle  bool
	)
	_ = r.call(func() {
		if r.registry.Count() == 0 {
			since, idle = r.idleSince, true
		}
	})
	return since, idle
}

// Close 停止事件迴圈、停止引擎並關閉所有連線，可重複呼叫
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.quit)
	})
	<-r.exited
}

// Closed 事件迴圈結束時關閉
func (r *Room) Closed() <-chan struct{} {
	return r.exited
}

// loop 房間的事件迴圈
func (r *Room) loop() {
	for {
		select {
		case fn := <-r.ops:
			fn()
		case <-r.quit:
			r.teardown()
			close(r.exited)
			return
		}
	}
}

// post 提交到事件迴圈，不等待
func (r *Room) post(fn func()) bool {
	select {
	case <-r.quit:
		return false
	default:
	}

	select {
	case r.ops <- fn:
		return true
	case <-r.quit:
		return false
	}
}

// call 提交到事件迴圈並等待執行完畢
//
// 不能在事件迴圈內呼叫。
func (r *Room) call(fn func()) error {
	done := make(chan struct{})
	if !r.post(func() {
		defer close(done)
		fn()
	}) {
		return apperrors.ErrRoomClosed
	}

	select {
	case <-done:
		return nil
	case <-r.exited:
		select {
		case <-done:
			return nil
		default:
			return apperrors.ErrRoomClosed
		}
	}
}

func (r *Room) addPlayer(sock transport.Socket) (player.Transmission, error) {
	if r.registry.Full() {
		return player.Transmission{}, apperrors.ErrCapacityExceeded
	}

	// 滿員的快照要等穩定期後的 state 才送出
	broadcastable := r.snapshot()

	p, err := r.registry.AddPlayer(sock)
	if err != nil {
		return player.Transmission{}, err
	}
	if !r.registry.Full() {
		broadcastable = r.snapshot()
	}

	next, eff, err := transition(r.state, triggerJoin, r.registry.Count())
	if err != nil {
		_ = r.registry.RemovePlayer(p.Side)
		return player.Transmission{}, err
	}
	if err := r.engine.AddSocket(sock, p.Side); err != nil {
		_ = r.registry.RemovePlayer(p.Side)
		return player.Transmission{}, err
	}

	r.state = next
	r.empty = false

	tx := p.Transmission()
	if err := sock.Emit(EventJoinedRoom, JoinedRoom{
		Player: tx,
		Room:   r.name,
		State:  broadcastable,
	}); err != nil {
		r.logger.Debug("發送 joined_room 失敗", "side", p.Side, "error", err)
	}

	r.bindDisconnect(p)

	r.logger.Info("玩家加入房間", "side", p.Side, "conn_id", tx.ID, "players", r.registry.Count())
	r.report(status.EventPlayerJoined)

	r.apply(eff)
	return tx, nil
}

// bindDisconnect 斷線時移除該座位
//
// 只有註冊表中該座位仍是同一位玩家時才處理，
// 重置後的新玩家不會被先前連線遲到的斷線事件移除。
func (r *Room) bindDisconnect(p *player.Player) {
	side := p.Side
	p.Socket.OnDisconnect(func() {
		r.post(func() {
			if cur, ok := r.registry.Get(side); !ok || cur != p {
				return
			}
			r.handleDisconnect(side)
		})
	})
}

func (r *Room) handleDisconnect(side player.Side) {
	if err := r.registry.RemovePlayer(side); err != nil {
		r.logger.Debug("斷線的座位已空", "side", side)
		return
	}

	next, eff, err := transition(r.state, triggerLeave, r.registry.Count())
	if err != nil {
		r.logger.Warn("非預期的狀態轉換", "state", r.state, "side", side, "error", err)
		return
	}
	r.state = next

	r.logger.Info("玩家離開房間", "side", side, "players", r.registry.Count())
	r.report(status.EventPlayerLeft)

	r.apply(eff)
}

func (r *Room) apply(eff effect) {
	switch eff {
	case effectStart:
		r.start()
	case effectSoftReset:
		r.softReset()
	case effectFullReset:
		r.empty = true
		r.reset()
	}
}

// start 標記開始，等待穩定期後廣播並啟動引擎
func (r *Room) start() {
	r.started = true
	r.logger.Info("房間開始", "settle_delay", r.settleDelay)

	epoch := r.epoch
	r.pending = time.AfterFunc(r.settleDelay, func() {
		r.post(func() { r.deferredStart(epoch) })
	})
}

// deferredStart 延遲開始；穩定期內有人離開則放棄
func (r *Room) deferredStart(epoch uint64) {
	r.pending = nil
	if epoch != r.epoch || !r.started || r.registry.Count() != player.Capacity {
		r.logger.Debug("略過過期的延遲開始", "epoch", epoch, "current", r.epoch)
		return
	}

	r.emit(EventState, r.snapshot())
	if err := r.engine.Start(); err != nil {
		r.logger.Error("引擎啟動失敗", "error", err)
		return
	}
	r.report(status.EventStarted)
}

// softReset 剩一人時：停止引擎、換新球、通知剩下的玩家
func (r *Room) softReset() {
	r.epoch++
	r.started = false
	r.ball = ball.New()
	r.engine.Stop()

	if engine.RebuildOnPlayerLoss(r.mode) {
		r.engine = r.build(host{r}, r.engineOpts)
		for _, p := range r.registry.Players() {
			if err := r.engine.AddSocket(p.Socket, p.Side); err != nil {
				r.logger.Error("重新綁定連線失敗", "side", p.Side, "error", err)
			}
		}
	}

	r.emit(EventStateReset, r.snapshot())
	r.report(status.EventReset)
}

// reset 最後一人離開：整個房間重建
func (r *Room) reset() {
	r.epoch++
	r.started = false
	r.ball = ball.New()
	r.registry = player.NewRegistry()
	r.engine.Stop()
	r.engine = r.build(host{r}, r.engineOpts)
	r.idleSince = time.Now()

	r.logger.Info("房間已重置")
	r.report(status.EventReset)
}

func (r *Room) teardown() {
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	r.engine.Stop()
	r.epoch++
	r.started = false

	sockets := r.registry.Sockets()
	r.registry = player.NewRegistry()
	r.state = StateEmpty
	for _, sock := range sockets {
		_ = sock.Close()
	}

	r.logger.Info("房間已關閉", "disconnected", len(sockets))
	r.report(status.EventClosed)
}

func (r *Room) emit(event string, payload any) {
	for _, p := range r.registry.Players() {
		if err := p.Socket.Emit(event, payload); err != nil {
			r.logger.Debug("廣播失敗", "event", event, "side", p.Side, "error", err)
		}
	}
}

func (r *Room) snapshot() Snapshot {
	players := make(map[player.Side]player.Transmission, player.Capacity)
	for _, p := range r.registry.Players() {
		players[p.Side] = p.Transmission()
	}
	return Snapshot{
		Players: players,
		Ball:    r.ball.Snapshot(),
		Started: r.started,
	}
}

func (r *Room) status() status.Status {
	return status.Status{
		Room:      r.name,
		Mode:      string(r.mode),
		State:     string(r.state),
		Players:   r.registry.Count(),
		Started:   r.started,
		Empty:     r.empty,
		Epoch:     r.epoch,
		UpdatedAt: time.Now(),
	}
}

func (r *Room) report(event status.Event) {
	st := r.status()
	st.Event = event
	r.reporter.Report(st)
}

// host 讓引擎透過房間的事件迴圈執行
type host struct {
	r *Room
}

func (h host) Dispatch(fn func()) bool {
	return h.r.post(fn)
}

func (h host) Ball() *ball.Ball {
	return h.r.ball
}

func (h host) Logger() *slog.Logger {
	return h.r.logger
}
