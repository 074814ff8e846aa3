package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palemoky/chat-room/internal/config"
	"github.com/palemoky/chat-room/internal/logger"
	"github.com/palemoky/chat-room/internal/server"
	"github.com/palemoky/chat-room/internal/server/broker"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}
	lg := logger.New(os.Stderr, logger.ParseLevel(cfg.Log.Level))
	slog.SetDefault(lg)
	if err != nil {
		lg.Warn("加载配置文件失败，使用默认配置", "path", *configPath, "error", err)
	}

	// 优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error("服务器启动失败", "error", err)
		os.Exit(1)
	}
	lg.Info("服务器已关闭")
}

func run(ctx context.Context, cfg *config.Config, lg *slog.Logger) error {
	b, closeBroker, err := newBroker(ctx, cfg.Redis, lg)
	if err != nil {
		return err
	}
	defer closeBroker()

	srv := server.New(cfg.Server, b, lg)
	return srv.Start(ctx)
}

// newBroker 根据配置选择 Redis 或内存 broker
func newBroker(ctx context.Context, cfg config.RedisConfig, lg *slog.Logger) (broker.Broker, func(), error) {
	if !cfg.Enabled {
		lg.Info("using in-memory broker")
		b := broker.NewMemory()
		return b, func() { _ = b.Close() }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis 连接失败: %w", err)
	}

	lg.Info("using redis broker", "addr", cfg.Addr, "channel", cfg.Channel)
	b := broker.NewRedis(rdb, broker.RedisOptions{
		Channel:     cfg.Channel,
		PresenceKey: cfg.PresenceKey,
		InstanceID:  cfg.InstanceID,
		PresenceTTL: time.Duration(cfg.PresenceTTL) * time.Second,
		Logger:      lg,
	})
	return b, func() {
		_ = b.Close()
		_ = rdb.Close()
	}, nil
}
