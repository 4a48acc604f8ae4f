package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-realtime-sync/internal/api"
	"github.com/koopa0/system-design/14-realtime-sync/internal/config"
	"github.com/koopa0/system-design/14-realtime-sync/internal/lobby"
	"github.com/koopa0/system-design/14-realtime-sync/internal/status"
	"github.com/koopa0/system-design/14-realtime-sync/pkg/logger"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "配置檔案路徑（空表示使用預設值）")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "載入配置失敗: %v\n", err)
		os.Exit(1)
	}

	// 命令行參數優先
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	// 設置日誌
	log := logger.Init(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource || cfg.Log.Level == "debug",
	})

	if err := run(cfg, log); err != nil {
		log.Error("服務器異常結束", "error", err)
		os.Exit(1)
	}
}

// loadConfig 載入配置檔案
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	// 狀態回報（Redis / NATS 都是可選的）
	sinks, cleanup, err := setupSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	reporter := status.NewReporter(log, cfg.Status.BufferSize, sinks...)

	// 創建房間管理器
	manager := lobby.NewManager(cfg.LobbyOptions(), reporter, log)

	// 啟動時開啟的房間
	for _, br := range cfg.Lobby.Rooms {
		if _, err := manager.OpenRoom(br.Name, br.Type); err != nil {
			manager.Stop()
			reporter.Close()
			return fmt.Errorf("open room %s: %w", br.Name, err)
		}
	}

	// 創建 WebSocket Hub
	wsHub := api.NewWebSocketHub(manager, cfg.Server.AllowedOrigins, log)

	// 創建 HTTP 處理器
	handler := api.NewHandler(manager, wsHub, log)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)

	// 啟動服務器
	go func() {
		log.Info("同步房間服務器啟動",
			"port", cfg.Server.Port,
			"rooms", len(cfg.Lobby.Rooms),
			"sinks", len(sinks),
			"log_level", cfg.Log.Level,
			"log_format", cfg.Log.Format)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		log.Info("收到關閉信號，開始優雅關閉...")
	case err := <-serverErr:
		runErr = fmt.Errorf("listen: %w", err)
	}

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	// 停止 WebSocket Hub，再關閉所有房間
	wsHub.Stop()
	manager.Stop()

	// 房間關閉的回報寫完才關閉連線
	reporter.Close()
	log.Info("服務器已關閉",
		"status_written", reporter.Written(),
		"status_dropped", reporter.Dropped())

	return runErr
}

// setupSinks 依配置建立狀態存儲
func setupSinks(ctx context.Context, cfg *config.Config, log *slog.Logger) ([]status.Sink, func(), error) {
	var (
		sinks   []status.Sink
		closers []func()
		cleanup = func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	)

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			cleanup()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				log.Warn("關閉 Redis 連線失敗", "error", err)
			}
		})
		sinks = append(sinks, status.NewRedisStore(client, cfg.Redis.Prefix, cfg.Redis.TTL))
		log.Info("Redis 狀態存儲已啟用", "addr", cfg.Redis.Addr)
	}

	if cfg.NATS.Enabled {
		nc, err := status.ConnectNATS(cfg.NATS.URL, log)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		closers = append(closers, func() {
			if err := nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				log.Warn("關閉 NATS 連線失敗", "error", err)
			}
		})
		sinks = append(sinks, status.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix))
		log.Info("NATS 事件發布已啟用", "url", cfg.NATS.URL)
	}

	return sinks, cleanup, nil
}
