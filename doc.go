// Package realtimesync 雙人即時同步房間服務
//
// 每個房間固定兩個座位（A、B），一個共享的球體狀態，以及一個可替換的同步引擎：
//   - lockstep：兩邊都送出同一步的輸入後才一起前進
//   - terminalclient：伺服器權威模擬，客戶端只送板子位置
//   - predictiveclient：客戶端預測，伺服器以 seq 確認並校正
//
// # 房間生命週期
//
//	empty ──join──▶ waiting ──join──▶ active
//	  ▲                │                 │
//	  └─────leave──────┘◀─────leave──────┘
//
// 第二位玩家加入後，房間先等待一段穩定期，再廣播 state 並啟動引擎。
// 穩定期內有人離開，延遲的開始會因為 epoch 改變而被略過。
// 剩一人時換新球並通知剩下的玩家（state_reset）；全部離開時整個房間重建。
//
// # 並發模型
//
// 房間的所有狀態只在自己的事件迴圈 goroutine 中修改，
// 連線的處理器與引擎的 ticker 都透過 Dispatch 排入迴圈，不需要鎖。
//
// # 使用範例
//
// 啟動服務器：
//
//	go run ./cmd/server -config config.yaml
//
// 創建房間並用 bot 加入：
//
//	curl -X POST localhost:8080/api/v1/rooms -d '{"name":"duel","type":"lockstep"}'
//	go run ./cmd/bot -room duel &
//	go run ./cmd/bot -room duel
//
// 客戶端協議（JSON 文字幀）：
//
//	{"event": "input", "data": {"step": 0, "input": {...}}}   // lockstep
//	{"event": "input", "data": {"paddle": 0.4}}               // terminalclient
//	{"event": "update", "data": {"seq": 7, "paddle": 0.4}}    // predictiveclient
//	{"event": "ping"}
//
// # 架構
//
//   - internal/room：房間、狀態機與事件迴圈
//   - internal/engine：三種同步引擎與模式表
//   - internal/player：座位註冊表
//   - internal/lobby：具名房間管理、閒置清理
//   - internal/api：HTTP 管理介面與 WebSocket 入口
//   - internal/transport：Socket 抽象與 gorilla/websocket 實作
//   - internal/status：房間狀態回報到 Redis 與 NATS
package realtimesync
