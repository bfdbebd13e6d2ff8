package cache

import (
	"context"
	"fmt"
	"time"

	"binancedash/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// InitRedis 连接 Redis。用户锁和身份缓存共用这一个客户端
func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败(%s): %w", client.Options().Addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"component": "redis",
		"addr":      client.Options().Addr,
		"db":        cfg.DB,
	}).Info("Redis 连接成功")
	return client, nil
}
