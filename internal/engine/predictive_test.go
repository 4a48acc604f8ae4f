package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-realtime-sync/internal/engine"
	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	"github.com/koopa0/system-design/14-realtime-sync/internal/testutils"
)

func newPredictive(t *testing.T) (*engine.Predictive, *testutils.Host, *testutils.Socket, *testutils.Socket) {
	t.Helper()
	host := testutils.NewHost()
	e := engine.NewPredictive(host, fastOptions())
	a := testutils.NewSocket("a")
	b := testutils.NewSocket("b")

	host.Do(func() {
		require.NoError(t, e.AddSocket(a, player.SideA))
		require.NoError(t, e.AddSocket(b, player.SideB))
	})
	return e, host, a, b
}

// TestPredictive_DropsStaleUpdates 測試 seq 不遞增的更新被丟棄
func TestPredictive_DropsStaleUpdates(t *testing.T) {
	e, host, a, _ := newPredictive(t)

	updates := []struct {
		seq    uint64
		paddle float64
	}{
		{seq: 1, paddle: 0.2},
		{seq: 3, paddle: 0.4},
		{seq: 2, paddle: 0.9}, // 亂序到達
		{seq: 3, paddle: 0.8}, // 重複
	}
	for _, u := range updates {
		require.NoError(t, a.Trigger(engine.EventUpdate, engine.PredictiveUpdate{Seq: u.seq, Paddle: u.paddle}))
	}

	host.Do(func() {
		seq, ok := e.Ack(player.SideA)
		require.True(t, ok)
		assert.Equal(t, uint64(3), seq)

		_, ok = e.Ack(player.SideB)
		assert.False(t, ok)
	})
}

// TestPredictive_Reconcile 測試校正訊息帶有確認紀錄
func TestPredictive_Reconcile(t *testing.T) {
	e, host, a, b := newPredictive(t)
	require.NoError(t, a.Trigger(engine.EventUpdate, engine.PredictiveUpdate{Seq: 7, Paddle: 0.25}))

	host.Do(func() { require.NoError(t, e.Start()) })
	defer host.Do(e.Stop)

	emitted, ok := b.WaitFor(engine.EventReconcile, 1, waitTimeout)
	require.True(t, ok)

	var rec engine.Reconcile
	require.NoError(t, emitted.Decode(&rec))
	assert.Equal(t, uint64(1), rec.Tick)
	assert.Equal(t, uint64(7), rec.Acks[player.SideA])
	assert.Equal(t, 0.25, rec.Paddles[player.SideA])
	assert.Equal(t, 0.5, rec.Paddles[player.SideB])
}

// TestPredictive_StopReleasesAcks 測試停止後確認紀錄清空並可重用
func TestPredictive_StopReleasesAcks(t *testing.T) {
	e, host, a, _ := newPredictive(t)
	require.NoError(t, a.Trigger(engine.EventUpdate, engine.PredictiveUpdate{Seq: 5, Paddle: 0.1}))

	host.Do(func() {
		require.NoError(t, e.Start())
		e.Stop()
		assert.False(t, e.Running())

		_, ok := e.Ack(player.SideA)
		assert.False(t, ok)
	})

	// 新一輪 seq 可以從頭開始
	require.NoError(t, a.Trigger(engine.EventUpdate, engine.PredictiveUpdate{Seq: 1, Paddle: 0.6}))
	host.Do(func() {
		seq, ok := e.Ack(player.SideA)
		require.True(t, ok)
		assert.Equal(t, uint64(1), seq)

		require.NoError(t, e.Start())
		assert.True(t, e.Running())
		e.Stop()
	})
}
