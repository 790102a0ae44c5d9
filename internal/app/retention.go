package app

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Pruner 按时间清理历史
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// RetentionCleaner 定期清理超过保留期的读数历史
type RetentionCleaner struct {
	repo          Pruner
	retention     time.Duration
	checkInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time

	statsCleaned atomic.Int64
}

// NewRetentionCleaner retention<=0 时不清理
func NewRetentionCleaner(repo Pruner, retention time.Duration, logger *zap.Logger) *RetentionCleaner {
	return &RetentionCleaner{
		repo:          repo,
		retention:     retention,
		checkInterval: time.Hour,
		logger:        logger,
		now:           time.Now,
	}
}

// Start 阻塞运行直到 ctx 取消
func (c *RetentionCleaner) Start(ctx context.Context) {
	if c.retention <= 0 {
		c.logger.Info("history retention disabled")
		return
	}
	c.logger.Info("retention cleaner started",
		zap.Duration("retention", c.retention),
		zap.Duration("check_interval", c.checkInterval))

	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	c.CleanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("retention cleaner stopped", zap.Int64("total_cleaned", c.statsCleaned.Load()))
			return
		case <-ticker.C:
			c.CleanOnce(ctx)
		}
	}
}

// CleanOnce 执行一次清理
func (c *RetentionCleaner) CleanOnce(ctx context.Context) int64 {
	cutoff := c.now().Add(-c.retention)
	n, err := c.repo.Prune(ctx, cutoff)
	if err != nil {
		c.logger.Error("prune history failed", zap.Error(err), zap.Time("cutoff", cutoff))
		return 0
	}
	if n > 0 {
		c.statsCleaned.Add(n)
		c.logger.Info("pruned history", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
	return n
}

// Stats 获取统计信息
func (c *RetentionCleaner) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_cleaned": c.statsCleaned.Load(),
	}
}
