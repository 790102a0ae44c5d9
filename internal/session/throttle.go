package session

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Throttle 建连令牌桶，避免设备频繁掉线时疯狂重连
type Throttle struct {
	limiter  *rate.Limiter
	perSec   float64
	burst    int
	allowed  atomic.Int64
	rejected atomic.Int64
}

// NewThrottle perSec 为稳定速率（可小于1，如 0.5 表示每2秒一次），burst 为突发容量
func NewThrottle(perSec float64, burst int) *Throttle {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		perSec:  perSec,
		burst:   burst,
	}
}

// Wait 阻塞直到拿到令牌或 ctx 结束
func (t *Throttle) Wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		t.rejected.Add(1)
		return err
	}
	t.allowed.Add(1)
	return nil
}

// ThrottleStats 限流统计
type ThrottleStats struct {
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
	AllowedTotal  int64   `json:"allowed_total"`
	RejectedTotal int64   `json:"rejected_total"`
}

// Stats 统计信息
func (t *Throttle) Stats() ThrottleStats {
	return ThrottleStats{
		RatePerSecond: t.perSec,
		Burst:         t.burst,
		AllowedTotal:  t.allowed.Load(),
		RejectedTotal: t.rejected.Load(),
	}
}
