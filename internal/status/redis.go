package status

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis 鍵設計：
//
//	{prefix}:rooms        SET   所有活躍房間名稱
//	{prefix}:room:{name}  HASH  房間目前的狀態
//
// 每次寫入都刷新 TTL，服務異常退出後殘留的鍵會自行過期。
const (
	DefaultRedisPrefix = "realtime"
	DefaultRedisTTL    = 10 * time.Minute
)

// RedisStore 以 Redis hash 保存每個房間的最新狀態
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Sink = (*RedisStore)(nil)

// NewRedisStore 創建 Redis 狀態存儲
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":rooms"
}

func (s *RedisStore) roomKey(name string) string {
	return s.prefix + ":room:" + name
}

// Write 更新房間狀態；房間關閉時刪除
func (s *RedisStore) Write(ctx context.Context, st Status) error {
	pipe := s.client.TxPipeline()

	if st.Event == EventClosed {
		pipe.Del(ctx, s.roomKey(st.Room))
		pipe.SRem(ctx, s.indexKey(), st.Room)
	} else {
		key := s.roomKey(st.Room)
		pipe.HSet(ctx, key,
			"room", st.Room,
			"mode", st.Mode,
			"state", st.State,
			"players", st.Players,
			"started", strconv.FormatBool(st.Started),
			"empty", strconv.FormatBool(st.Empty),
			"epoch", st.Epoch,
			"event", string(st.Event),
			"updated_at", st.UpdatedAt.UnixMilli(),
		)
		pipe.Expire(ctx, key, s.ttl)
		pipe.SAdd(ctx, s.indexKey(), st.Room)
		pipe.Expire(ctx, s.indexKey(), s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write %s: %w", st.Room, err)
	}
	return nil
}

// Get 讀取單一房間狀態，不存在時返回 redis.Nil
func (s *RedisStore) Get(ctx context.Context, name string) (Status, error) {
	fields, err := s.client.HGetAll(ctx, s.roomKey(name)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("redis get %s: %w", name, err)
	}
	if len(fields) == 0 {
		return Status{}, redis.Nil
	}
	return parseStatus(fields), nil
}

// List 讀取所有房間狀態（依名稱排序）
func (s *RedisStore) List(ctx context.Context) ([]Status, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	sort.Strings(names)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, s.roomKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}

	statuses := make([]Status, 0, len(names))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			// 鍵已過期但索引還在
			continue
		}
		statuses = append(statuses, parseStatus(fields))
	}
	return statuses, nil
}

func parseStatus(fields map[string]string) Status {
	players, _ := strconv.Atoi(fields["players"])
	started, _ := strconv.ParseBool(fields["started"])
	empty, _ := strconv.ParseBool(fields["empty"])
	epoch, _ := strconv.ParseUint(fields["epoch"], 10, 64)
	updated, _ := strconv.ParseInt(fields["updated_at"], 10, 64)

	return Status{
		Room:      fields["room"],
		Mode:      fields["mode"],
		State:     fields["state"],
		Players:   players,
		Started:   started,
		Empty:     empty,
		Epoch:     epoch,
		Event:     Event(fields["event"]),
		UpdatedAt: time.UnixMilli(updated),
	}
}
