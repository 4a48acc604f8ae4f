// Package engine 定義房間可插拔的狀態同步引擎
//
// 三種策略共用同一組能力：
//
//	AddSocket(sock, side) → 綁定某個座位的連線（重複綁定會覆蓋）
//	Start()               → 兩個座位都綁定後開始同步
//	Stop()                → 停止並釋放本輪資源，可重複呼叫
//
// 執行緒模型：引擎的所有狀態只在宿主的事件迴圈上修改。
// AddSocket、Start、Stop 由宿主在迴圈內呼叫；
// 客戶端訊息與計時器 tick 透過 Host.Dispatch 排入迴圈。
package engine

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/koopa0/system-design/14-realtime-sync/internal/ball"
	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	"github.com/koopa0/system-design/14-realtime-sync/internal/transport"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
)

// Mode 同步策略
type Mode string

const (
	ModeLockstep   Mode = "lockstep"
	ModeTerminal   Mode = "terminalclient"
	ModePredictive Mode = "predictiveclient"
)

// Engine 同步引擎
type Engine interface {
	AddSocket(sock transport.Socket, side player.Side) error
	Start() error
	Stop()
}

// Host 引擎的宿主（房間）
type Host interface {
	// Dispatch 將 fn 排入宿主的事件迴圈，宿主已關閉時返回 false
	Dispatch(fn func()) bool
	// Ball 目前的共享狀態，只能在迴圈內讀寫
	Ball() *ball.Ball
	Logger() *slog.Logger
}

// Options 引擎參數
type Options struct {
	// TickInterval 權威引擎的模擬間隔
	TickInterval time.Duration
	// StepWindow lockstep 接受的未來步數
	StepWindow int
}

// DefaultOptions 預設參數（約 30 FPS）
func DefaultOptions() Options {
	return Options{
		TickInterval: 33 * time.Millisecond,
		StepWindow:   8,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.StepWindow <= 0 {
		o.StepWindow = d.StepWindow
	}
	return o
}

// variant 模式對應表的一列
type variant struct {
	build func(host Host, opts Options) Engine
	// rebuildOnLoss 玩家中途離開時必須重建（單次使用的引擎）
	rebuildOnLoss bool
}

// variants 模式 → 建構方式，房間建立與重置都查這張表
var variants = map[Mode]variant{
	ModeLockstep: {
		build:         func(h Host, o Options) Engine { return NewLockstep(h, o) },
		rebuildOnLoss: true,
	},
	ModeTerminal: {
		build: func(h Host, o Options) Engine { return NewTerminal(h, o) },
	},
	ModePredictive: {
		build: func(h Host, o Options) Engine { return NewPredictive(h, o) },
	},
}

// aliases 設定檔與 API 接受的簡寫
var aliases = map[string]Mode{
	"terminal":   ModeTerminal,
	"predictive": ModePredictive,
}

// ParseMode 解析模式字串，未知類型返回 ErrUnknownEngineType
func ParseMode(s string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if m, ok := aliases[key]; ok {
		return m, nil
	}
	m := Mode(key)
	if _, ok := variants[m]; !ok {
		return "", apperrors.ErrUnknownEngineType.WithDetails(s)
	}
	return m, nil
}

// Modes 所有已知模式（排序）
func Modes() []Mode {
	modes := make([]Mode, 0, len(variants))
	for m := range variants {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

// Builder 該模式的建構函數
//
// 房間在建立時解析一次，之後的重置都用同一個建構函數。
func Builder(mode Mode) (func(host Host, opts Options) Engine, error) {
	v, ok := variants[mode]
	if !ok {
		return nil, apperrors.ErrUnknownEngineType.WithDetails(string(mode))
	}
	return func(host Host, opts Options) Engine {
		return v.build(host, opts.withDefaults())
	}, nil
}

// New 依模式建立引擎
func New(mode Mode, host Host, opts Options) (Engine, error) {
	build, err := Builder(mode)
	if err != nil {
		return nil, err
	}
	return build(host, opts), nil
}

// RebuildOnPlayerLoss 該模式的引擎在玩家中途離開後是否必須重建
func RebuildOnPlayerLoss(mode Mode) bool {
	return variants[mode].rebuildOnLoss
}

// bindings 座位 → 連線
type bindings map[player.Side]transport.Socket

// ready 兩個座位都已綁定
func (b bindings) ready() bool {
	for _, side := range player.Sides {
		if b[side] == nil {
			return false
		}
	}
	return true
}

// current sock 是否仍是該座位目前的綁定
func (b bindings) current(side player.Side, sock transport.Socket) bool {
	return b[side] == sock
}

// broadcast 盡力而為地發送給所有綁定的連線
func (b bindings) broadcast(log *slog.Logger, event string, payload any) {
	for _, side := range player.Sides {
		sock := b[side]
		if sock == nil {
			continue
		}
		if err := sock.Emit(event, payload); err != nil {
			log.Debug("引擎發送失敗", "event", event, "side", side, "error", err)
		}
	}
}
