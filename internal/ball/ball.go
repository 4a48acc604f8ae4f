// Package ball 定義房間廣播的共享物理狀態
//
// 座標以單位正方形 [0,1]x[0,1] 表示，與畫面解析度無關。
package ball

// 預設值（每次重置都回到這裡）
const (
	DefaultX  = 0.5
	DefaultY  = 0.5
	DefaultVX = 0.25 // 每秒移動 1/4 場地寬
	DefaultVY = 0.15
)

// Ball 共享可變狀態
type Ball struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// New 創建預設狀態的球
func New() *Ball {
	return &Ball{
		X:  DefaultX,
		Y:  DefaultY,
		VX: DefaultVX,
		VY: DefaultVY,
	}
}

// Snapshot 返回值拷貝，用於序列化
func (b *Ball) Snapshot() Ball {
	return *b
}

// Advance 前進 dt 秒，碰到邊界反彈
func (b *Ball) Advance(dt float64) {
	b.X, b.VX = reflect(b.X+b.VX*dt, b.VX)
	b.Y, b.VY = reflect(b.Y+b.VY*dt, b.VY)
}

func reflect(pos, vel float64) (float64, float64) {
	switch {
	case pos < 0:
		return -pos, -vel
	case pos > 1:
		return 2 - pos, -vel
	default:
		return pos, vel
	}
}
