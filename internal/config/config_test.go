package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-realtime-sync/internal/config"
	"github.com/koopa0/system-design/14-realtime-sync/internal/engine"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Room.SettleDelay)
	assert.Equal(t, engine.DefaultOptions().TickInterval, cfg.Engine.TickInterval)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
lobby:
  empty_ttl: 2m
  rooms:
    - name: r1
      type: lockstep
    - name: arena
      type: predictive
room:
  settle_delay: 250ms
engine:
  tick_interval: 16ms
log:
  level: debug
  format: json
redis:
  enabled: true
  addr: redis:6379
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "未設定的欄位保留預設值")
	assert.Equal(t, 2*time.Minute, cfg.Lobby.EmptyTTL)
	assert.Equal(t, []config.BootRoom{
		{Name: "r1", Type: "lockstep"},
		{Name: "arena", Type: "predictive"},
	}, cfg.Lobby.Rooms)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)

	opts := cfg.LobbyOptions()
	assert.Equal(t, 250*time.Millisecond, opts.SettleDelay)
	assert.Equal(t, 16*time.Millisecond, opts.Engine.TickInterval)
	assert.Equal(t, engine.DefaultOptions().StepWindow, opts.Engine.StepWindow)
	assert.Equal(t, 2*time.Minute, opts.EmptyTTL)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "server: [\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *config.Config)
		wantErr bool
		check   func(t *testing.T, err error)
	}{
		{
			name:   "defaults",
			modify: func(c *config.Config) {},
		},
		{
			name:    "invalid port",
			modify:  func(c *config.Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name: "unknown room type",
			modify: func(c *config.Config) {
				c.Lobby.Rooms = []config.BootRoom{{Name: "r1", Type: "rollback"}}
			},
			wantErr: true,
			check: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsUnknownEngineType(err))
			},
		},
		{
			name: "duplicate room",
			modify: func(c *config.Config) {
				c.Lobby.Rooms = []config.BootRoom{
					{Name: "r1", Type: "lockstep"},
					{Name: "r1", Type: "terminalclient"},
				}
			},
			wantErr: true,
		},
		{
			name: "empty room name",
			modify: func(c *config.Config) {
				c.Lobby.Rooms = []config.BootRoom{{Name: " ", Type: "lockstep"}}
			},
			wantErr: true,
		},
		{
			name:    "negative settle delay",
			modify:  func(c *config.Config) { c.Room.SettleDelay = -time.Second },
			wantErr: true,
		},
		{
			name: "redis without addr",
			modify: func(c *config.Config) {
				c.Redis.Enabled = true
				c.Redis.Addr = ""
			},
			wantErr: true,
		},
		{
			name: "nats without url",
			modify: func(c *config.Config) {
				c.NATS.Enabled = true
				c.NATS.URL = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}
