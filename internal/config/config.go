// Package config 載入服務配置
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/koopa0/system-design/14-realtime-sync/internal/engine"
	"github.com/koopa0/system-design/14-realtime-sync/internal/lobby"
	"github.com/koopa0/system-design/14-realtime-sync/internal/room"
	"github.com/koopa0/system-design/14-realtime-sync/internal/status"
)

// Config 整個應用的配置
type Config struct {
	Server ServerConfig `yaml:"server"`
	Lobby  LobbyConfig  `yaml:"lobby"`
	Room   RoomConfig   `yaml:"room"`
	Engine EngineConfig `yaml:"engine"`
	Log    LogConfig    `yaml:"log"`
	Status StatusConfig `yaml:"status"`
	Redis  RedisConfig  `yaml:"redis"`
	NATS   NATSConfig   `yaml:"nats"`
}

// ServerConfig HTTP 服務配置
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins WebSocket 允許的來源，空表示全部接受
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BootRoom 啟動時開啟的房間
type BootRoom struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// LobbyConfig 房間管理配置
type LobbyConfig struct {
	Rooms           []BootRoom    `yaml:"rooms"`
	EmptyTTL        time.Duration `yaml:"empty_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RoomConfig 房間配置
type RoomConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// EngineConfig 同步引擎配置
type EngineConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	StepWindow   int           `yaml:"step_window"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// StatusConfig 房間狀態回報配置
type StatusConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// RedisConfig Redis 狀態存儲
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// NATSConfig NATS 事件發布
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	lobbyDefaults := lobby.DefaultConfig()
	engineDefaults := engine.DefaultOptions()

	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Lobby: LobbyConfig{
			EmptyTTL:        lobbyDefaults.EmptyTTL,
			CleanupInterval: lobbyDefaults.CleanupInterval,
		},
		Room: RoomConfig{
			SettleDelay: room.DefaultSettleDelay,
		},
		Engine: EngineConfig{
			TickInterval: engineDefaults.TickInterval,
			StepWindow:   engineDefaults.StepWindow,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Status: StatusConfig{
			BufferSize: status.DefaultBufferSize,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: status.DefaultRedisPrefix,
			TTL:    status.DefaultRedisTTL,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: status.DefaultSubjectPrefix,
		},
	}
}

// Load 載入配置檔案，未設定的欄位保留預設值
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// #nosec G304 - path 來自命令行參數
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 檢查配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Room.SettleDelay < 0 {
		return fmt.Errorf("room settle_delay must not be negative")
	}
	if c.Engine.TickInterval < 0 || c.Engine.StepWindow < 0 {
		return fmt.Errorf("engine tick_interval and step_window must not be negative")
	}

	seen := make(map[string]bool, len(c.Lobby.Rooms))
	for i, r := range c.Lobby.Rooms {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("lobby room #%d: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("lobby room %s: duplicate name", name)
		}
		seen[name] = true
		if _, err := engine.ParseMode(r.Type); err != nil {
			return fmt.Errorf("lobby room %s: %w", name, err)
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats url is required when enabled")
	}
	return nil
}

// LobbyOptions 轉換為房間管理器配置
func (c *Config) LobbyOptions() lobby.Config {
	return lobby.Config{
		SettleDelay: c.Room.SettleDelay,
		Engine: engine.Options{
			TickInterval: c.Engine.TickInterval,
			StepWindow:   c.Engine.StepWindow,
		},
		EmptyTTL:        c.Lobby.EmptyTTL,
		CleanupInterval: c.Lobby.CleanupInterval,
	}
}
