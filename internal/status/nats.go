package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix 預設主題前綴
//
// 主題格式：{prefix}.{room}.{event}，例如 rooms.r1.player_joined，
// 訂閱者可以用 rooms.*.started 或 rooms.r1.> 過濾。
const DefaultSubjectPrefix = "rooms"

// Publisher NATS 發布介面，*nats.Conn 已實作
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher 將生命週期事件發布到 NATS
type NATSPublisher struct {
	pub    Publisher
	prefix string
}

var _ Sink = (*NATSPublisher)(nil)

// NewNATSPublisher 創建 NATS 發布器
func NewNATSPublisher(pub Publisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{
		pub:    pub,
		prefix: prefix,
	}
}

// Subject 房間事件的主題
func (p *NATSPublisher) Subject(room string, event Event) string {
	// NATS 主題不允許空白，"." 和 "*" 有特殊意義
	safe := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(room)
	return fmt.Sprintf("%s.%s.%s", p.prefix, safe, event)
}

func (p *NATSPublisher) Write(ctx context.Context, s Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	subject := p.Subject(s.Room, s.Event)
	if err := p.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// ConnectNATS 建立帶有自動重連的 NATS 連線
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("realtime-sync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連接中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連接", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}
