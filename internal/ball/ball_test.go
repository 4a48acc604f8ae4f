package ball_test

import (
	"testing"

	"github.com/koopa0/system-design/14-realtime-sync/internal/ball"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	b := ball.New()
	assert.Equal(t, ball.Ball{X: ball.DefaultX, Y: ball.DefaultY, VX: ball.DefaultVX, VY: ball.DefaultVY}, *b)

	// 每次都是新實例
	assert.NotSame(t, b, ball.New())
}

func TestBall_Advance(t *testing.T) {
	tests := []struct {
		name  string
		start ball.Ball
		dt    float64
		want  ball.Ball
	}{
		{
			name:  "free flight",
			start: ball.Ball{X: 0.5, Y: 0.5, VX: 0.5, VY: -0.5},
			dt:    0.5,
			want:  ball.Ball{X: 0.75, Y: 0.25, VX: 0.5, VY: -0.5},
		},
		{
			name:  "bounce off right wall",
			start: ball.Ball{X: 0.9, Y: 0.5, VX: 0.4, VY: 0},
			dt:    0.5,
			want:  ball.Ball{X: 0.9, Y: 0.5, VX: -0.4, VY: 0},
		},
		{
			name:  "bounce off top wall",
			start: ball.Ball{X: 0.5, Y: 0.1, VX: 0, VY: -0.4},
			dt:    0.5,
			want:  ball.Ball{X: 0.5, Y: 0.1, VX: 0, VY: 0.4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.start
			b.Advance(tt.dt)
			assert.InDelta(t, tt.want.X, b.X, 1e-9)
			assert.InDelta(t, tt.want.Y, b.Y, 1e-9)
			assert.InDelta(t, tt.want.VX, b.VX, 1e-9)
			assert.InDelta(t, tt.want.VY, b.VY, 1e-9)
		})
	}
}

func TestBall_SnapshotIsCopy(t *testing.T) {
	b := ball.New()
	snap := b.Snapshot()
	b.Advance(1)
	assert.Equal(t, ball.DefaultX, snap.X)
}
