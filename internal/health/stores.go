package health

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// 历史库与快照缓存都是可选的旁路；不可用时轮询照常，记为降级

// PgPool pgx 连接池能力
type PgPool interface {
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
}

// DatabaseChecker 读数历史库检查
type DatabaseChecker struct {
	pool PgPool
}

// NewDatabaseChecker 创建数据库检查器
func NewDatabaseChecker(pool PgPool) *DatabaseChecker {
	return &DatabaseChecker{pool: pool}
}

func (c *DatabaseChecker) Name() string { return "database" }

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	if err := c.pool.Ping(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("ping failed: %v", err)}
	}
	st := c.pool.Stat()
	res := ok(map[string]interface{}{
		"acquired_conns": st.AcquiredConns(),
		"idle_conns":     st.IdleConns(),
		"max_conns":      st.MaxConns(),
	})
	if st.MaxConns() > 0 && st.AcquiredConns() >= st.MaxConns() {
		res.Status = StatusDegraded
		res.Message = "connection pool exhausted"
	}
	return res
}

// RedisPinger Redis 客户端能力
type RedisPinger interface {
	HealthCheck(ctx context.Context) error
	Stats() *redis.PoolStats
}

// RedisChecker 快照缓存检查
type RedisChecker struct {
	client RedisPinger
}

// NewRedisChecker 创建 Redis 检查器
func NewRedisChecker(client RedisPinger) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	if err := c.client.HealthCheck(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("ping failed: %v", err)}
	}
	st := c.client.Stats()
	if st == nil {
		return ok(nil)
	}
	res := ok(map[string]interface{}{
		"total_conns": st.TotalConns,
		"idle_conns":  st.IdleConns,
		"timeouts":    st.Timeouts,
	})
	if st.Timeouts > 0 && st.Timeouts >= st.Hits {
		res.Status = StatusDegraded
		res.Message = "pool timeouts"
	}
	return res
}
