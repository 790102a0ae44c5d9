package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/htram-gateway/internal/config"
	"github.com/taoyao-code/htram-gateway/internal/health"
	redisstorage "github.com/taoyao-code/htram-gateway/internal/storage/redis"
)

const redisConnectTimeout = 5 * time.Second

// NewRedisClient 创建Redis客户端；未启用返回 nil
func NewRedisClient(ctx context.Context, cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, skipping initialization")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	client, err := redisstorage.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}

// NewSnapshotCache 基于客户端构造快照缓存
func NewSnapshotCache(client *redisstorage.Client, cfg cfgpkg.RedisConfig) *redisstorage.SnapshotCache {
	return redisstorage.NewSnapshotCache(client.Client, cfg.KeyPrefix, cfg.TTL)
}

// AddRedisChecker 添加Redis检查器到聚合器
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client) {
	if redisClient != nil {
		aggregator.AddChecker(health.NewRedisChecker(redisClient))
	}
}
