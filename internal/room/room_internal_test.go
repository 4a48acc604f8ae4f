package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-realtime-sync/internal/ball"
	"github.com/koopa0/system-design/14-realtime-sync/internal/engine"
	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	"github.com/koopa0/system-design/14-realtime-sync/internal/testutils"
)

// internals 在事件迴圈內取出的內部引用
type internals struct {
	engine   engine.Engine
	ball     *ball.Ball
	registry *player.Registry
	epoch    uint64
}

func (r *Room) inspect(t *testing.T) internals {
	t.Helper()
	var in internals
	require.NoError(t, r.call(func() {
		in = internals{engine: r.engine, ball: r.ball, registry: r.registry, epoch: r.epoch}
	}))
	return in
}

func newInternalRoom(t *testing.T, typ string) *Room {
	t.Helper()
	r, err := New(Options{Name: "r1", Type: typ, SettleDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

// TestRoom_EngineIdentity 測試各模式在重置時是否重建引擎
func TestRoom_EngineIdentity(t *testing.T) {
	tests := []struct {
		typ          string
		keptOnSingle bool
	}{
		{typ: "lockstep", keptOnSingle: false},
		{typ: "terminalclient", keptOnSingle: true},
		{typ: "predictiveclient", keptOnSingle: true},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			r := newInternalRoom(t, tt.typ)
			a := testutils.NewSocket("a")
			b := testutils.NewSocket("b")
			_, _ = r.AddPlayer(a)
			_, _ = r.AddPlayer(b)
			start := r.inspect(t)

			// 剩一人
			require.NoError(t, r.HandleDisconnect(player.SideB))
			single := r.inspect(t)
			if tt.keptOnSingle {
				assert.Same(t, start.engine, single.engine)
			} else {
				assert.NotSame(t, start.engine, single.engine)
			}
			assert.NotSame(t, start.ball, single.ball, "剩一人時必須換新球")
			assert.Same(t, start.registry, single.registry)

			// 全部離開
			require.NoError(t, r.HandleDisconnect(player.SideA))
			empty := r.inspect(t)
			assert.NotSame(t, single.engine, empty.engine)
			assert.NotSame(t, single.ball, empty.ball)
			assert.NotSame(t, single.registry, empty.registry)
			assert.Greater(t, empty.epoch, single.epoch)
			assert.Greater(t, single.epoch, start.epoch)

			// 新引擎的類型與房間模式一致
			assert.IsType(t, start.engine, empty.engine)
		})
	}
}

// TestRoom_LockstepRebindsRemaining 測試 lockstep 重建後剩下的玩家仍然綁定
func TestRoom_LockstepRebindsRemaining(t *testing.T) {
	r := newInternalRoom(t, "lockstep")
	a := testutils.NewSocket("a")
	b := testutils.NewSocket("b")
	_, _ = r.AddPlayer(a)
	_, _ = r.AddPlayer(b)

	b.Disconnect()
	_, ok := a.WaitFor(EventStateReset, 1, time.Second)
	require.True(t, ok)

	c := testutils.NewSocket("c")
	_, err := r.AddPlayer(c)
	require.NoError(t, err)
	_, ok = c.WaitFor(EventState, 1, time.Second)
	require.True(t, ok)

	// 兩邊輸入都能到達重建後的引擎
	require.NoError(t, a.Trigger(engine.EventInput, engine.LockstepInput{Step: 0, Input: []byte(`1`)}))
	require.NoError(t, c.Trigger(engine.EventInput, engine.LockstepInput{Step: 0, Input: []byte(`2`)}))

	_, ok = a.WaitFor(engine.EventStep, 1, time.Second)
	assert.True(t, ok)
	_, ok = c.WaitFor(engine.EventStep, 1, time.Second)
	assert.True(t, ok)
}

// TestRoom_StaleDisconnect 測試重置前的連線遲到的斷線不影響新玩家
func TestRoom_StaleDisconnect(t *testing.T) {
	r := newInternalRoom(t, "terminalclient")
	x := testutils.NewSocket("x")
	_, err := r.AddPlayer(x)
	require.NoError(t, err)

	// 不經過連線直接移除，x 的斷線回呼仍然掛著
	require.NoError(t, r.HandleDisconnect(player.SideA))

	y := testutils.NewSocket("y")
	tx, err := r.AddPlayer(y)
	require.NoError(t, err)
	require.Equal(t, player.SideA, tx.Side)

	x.Disconnect()
	assert.Equal(t, 1, r.PlayerCount())

	p, ok := r.inspect(t).registry.Get(player.SideA)
	require.True(t, ok)
	assert.Same(t, y, p.Socket)
}

// TestRoom_DeferredStartValidates 測試延遲開始重新檢查 epoch 與人數
func TestRoom_DeferredStartValidates(t *testing.T) {
	r := newInternalRoom(t, "lockstep")
	a := testutils.NewSocket("a")
	b := testutils.NewSocket("b")
	_, _ = r.AddPlayer(a)
	_, _ = r.AddPlayer(b)

	// 等延遲開始完成
	_, ok := a.WaitFor(EventState, 1, time.Second)
	require.True(t, ok)

	require.NoError(t, r.call(func() {
		// 過期的 epoch
		r.deferredStart(r.epoch + 1)
	}))
	assert.Equal(t, 1, a.Count(EventState))

	require.NoError(t, r.call(func() {
		r.deferredStart(r.epoch)
	}))
	assert.Equal(t, 2, a.Count(EventState), "同一個 epoch 且人數正確時仍會廣播")
}
