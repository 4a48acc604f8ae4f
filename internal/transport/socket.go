// Package transport 定義房間與連線之間的 Socket 抽象，並提供 WebSocket 實作
package transport

import "encoding/json"

// Handler 處理某個事件的負載
type Handler func(payload json.RawMessage)

// Socket 雙向持久連線
//
// Emit 可以從任何 goroutine 呼叫；Handler 在連線的讀取 goroutine 中執行，
// 需要修改房間狀態的處理器必須自行排入房間的事件迴圈。
type Socket interface {
	// ID 連線唯一識別碼
	ID() string
	// Emit 以 event 名稱發送 payload，盡力而為
	Emit(event string, payload any) error
	// On 註冊事件處理器，同一事件只保留最後一個
	On(event string, handler Handler)
	// OnDisconnect 註冊斷線回呼；若已斷線會立即在新 goroutine 中執行
	OnDisconnect(fn func())
	// Close 關閉連線
	Close() error
}

// Envelope 線上訊息格式
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// 連線層保留事件
const (
	EventPing = "ping"
	EventPong = "pong"
)

// Encode 將事件編碼為線上格式
func Encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
