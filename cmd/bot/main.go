// bot 無畫面的測試客戶端，加入房間後依房間模式自動送出輸入
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-realtime-sync/internal/engine"
	"github.com/koopa0/system-design/14-realtime-sync/internal/player"
	"github.com/koopa0/system-design/14-realtime-sync/internal/room"
	"github.com/koopa0/system-design/14-realtime-sync/internal/status"
	"github.com/koopa0/system-design/14-realtime-sync/internal/transport"
	"github.com/koopa0/system-design/14-realtime-sync/pkg/logger"
)

const (
	pingInterval  = 20 * time.Second
	inputInterval = 50 * time.Millisecond
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:8080", "服務器地址")
		roomName = flag.String("room", "r1", "房間名稱")
		duration = flag.Duration("duration", 0, "執行時間（0 表示直到中斷）")
		logLevel = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
	)
	flag.Parse()

	log := logger.New(logger.Options{Level: *logLevel})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	mode, err := fetchMode(ctx, *server, *roomName)
	if err != nil {
		log.Error("查詢房間失敗", "room", *roomName, "error", err)
		os.Exit(1)
	}

	b, err := dial(ctx, *server, *roomName, mode, log)
	if err != nil {
		log.Error("連接房間失敗", "room", *roomName, "error", err)
		os.Exit(1)
	}

	if err := b.run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("連線異常結束", "error", err)
		os.Exit(1)
	}
	log.Info("bot 已結束", "sent", b.sent, "received", b.received)
}

// fetchMode 透過 HTTP API 取得房間模式
func fetchMode(ctx context.Context, server, name string) (engine.Mode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/api/v1/rooms/"+url.PathEscape(name), nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get room: status %d", resp.StatusCode)
	}

	var detail struct {
		Status status.Status `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return "", fmt.Errorf("decode room: %w", err)
	}
	return engine.ParseMode(detail.Status.Mode)
}

// bot 單一連線
type bot struct {
	conn   *websocket.Conn
	mode   engine.Mode
	logger *slog.Logger

	writeMu sync.Mutex

	// 以下欄位只在讀取 goroutine 中存取
	side      player.Side
	started   bool
	step      int
	seq       uint64
	ballY     float64
	lastInput time.Time
	sent      int
	received  int
}

func dial(ctx context.Context, server, name string, mode engine.Mode, log *slog.Logger) (*bot, error) {
	wsURL := "ws" + strings.TrimPrefix(server, "http") + "/ws/rooms/" + url.PathEscape(name)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	return &bot{
		conn:   conn,
		mode:   mode,
		logger: log.With("room", name, "mode", mode),
		ballY:  0.5,
	}, nil
}

// send 序列化寫入，gorilla 連線同一時間只能有一個寫入者
func (b *bot) send(event string, payload any) error {
	msg, err := transport.Encode(event, payload)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteMessage(websocket.TextMessage, msg)
}

func (b *bot) run(ctx context.Context) error {
	defer b.conn.Close()

	go func() {
		<-ctx.Done()
		b.writeMu.Lock()
		_ = b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		b.writeMu.Unlock()
		b.conn.Close()
	}()

	go b.pingLoop(ctx)

	for {
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				b.logger.Info("服務器關閉連線")
				return nil
			}
			return err
		}

		var env transport.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			b.logger.Warn("解析服務器消息失敗", "error", err)
			continue
		}
		b.received++

		if err := b.handle(env); err != nil {
			b.logger.Warn("處理消息失敗", "event", env.Event, "error", err)
		}
	}
}

func (b *bot) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.send(transport.EventPing, nil); err != nil {
				return
			}
		}
	}
}

func (b *bot) handle(env transport.Envelope) error {
	switch env.Event {
	case room.EventJoinedRoom:
		var joined room.JoinedRoom
		if err := json.Unmarshal(env.Data, &joined); err != nil {
			return err
		}
		b.side = joined.Player.Side
		b.logger.Info("已加入房間", "side", b.side, "players", len(joined.State.Players))

	case room.EventState:
		var snap room.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return err
		}
		b.started = snap.Started
		b.logger.Info("房間開始", "players", len(snap.Players))
		return b.onStart()

	case room.EventStateReset:
		b.started = false
		b.step = 0
		b.logger.Info("對手離開，等待新玩家")

	case engine.EventStep:
		var step engine.LockstepStep
		if err := json.Unmarshal(env.Data, &step); err != nil {
			return err
		}
		b.step = step.Step + 1
		return b.sendStep()

	case engine.EventFrame:
		var frame engine.Frame
		if err := json.Unmarshal(env.Data, &frame); err != nil {
			return err
		}
		b.track(frame.Ball.Y)
		if time.Since(b.lastInput) >= inputInterval {
			return b.sendPaddle()
		}

	case engine.EventReconcile:
		var rec engine.Reconcile
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return err
		}
		b.track(rec.Ball.Y)
		b.logger.Debug("伺服器確認", "tick", rec.Tick, "ack", rec.Acks[b.side], "seq", b.seq)
		if time.Since(b.lastInput) >= inputInterval {
			return b.sendUpdate()
		}

	case transport.EventPong:
		b.logger.Debug("收到 pong")
	}
	return nil
}

// onStart 房間開始時送出第一筆輸入
func (b *bot) onStart() error {
	if !b.started {
		return nil
	}
	switch b.mode {
	case engine.ModeLockstep:
		b.step = 0
		return b.sendStep()
	case engine.ModeTerminal:
		return b.sendPaddle()
	case engine.ModePredictive:
		return b.sendUpdate()
	}
	return nil
}

func (b *bot) track(y float64) {
	b.ballY = y
}

func (b *bot) sendStep() error {
	input, err := json.Marshal(map[string]any{"side": b.side, "step": b.step})
	if err != nil {
		return err
	}
	b.sent++
	return b.send(engine.EventInput, engine.LockstepInput{Step: b.step, Input: input})
}

func (b *bot) sendPaddle() error {
	b.lastInput = time.Now()
	b.sent++
	return b.send(engine.EventInput, engine.PaddleInput{Paddle: b.ballY})
}

func (b *bot) sendUpdate() error {
	b.lastInput = time.Now()
	b.seq++
	b.sent++
	return b.send(engine.EventUpdate, engine.PredictiveUpdate{Seq: b.seq, Paddle: b.ballY})
}
