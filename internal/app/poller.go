package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/htram-gateway/internal/device"
	"github.com/taoyao-code/htram-gateway/internal/health"
	"github.com/taoyao-code/htram-gateway/internal/metrics"
	"github.com/taoyao-code/htram-gateway/internal/session"
)

const sinkTimeout = 10 * time.Second

// Poller 单台设备的定时轮询与分发；内嵌引擎提供写命令
type Poller struct {
	*device.Engine

	sess     *session.Manager
	interval time.Duration
	sinks    []Sink
	appm     *metrics.AppMetrics
	log      *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	lastResult string
	lastPoll   time.Time
	failures   int
}

// NewPoller 创建轮询器；appm 可为 nil
func NewPoller(parts EngineParts, interval time.Duration, sinks []Sink, appm *metrics.AppMetrics, log *zap.Logger) *Poller {
	return &Poller{
		Engine:   parts.Engine,
		sess:     parts.Session,
		interval: interval,
		sinks:    sinks,
		appm:     appm,
		log:      log.With(zap.String("device", parts.Engine.Name())),
		now:      time.Now,
	}
}

// Run 立即轮询一次，之后按间隔执行，直到 ctx 取消
// 单 goroutine 执行，周期不会重叠
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("poller started", zap.Duration("interval", p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		_, _ = p.Poll(ctx)
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// Poll 执行一次轮询并把快照分发到各目标
func (p *Poller) Poll(ctx context.Context) (device.Reading, error) {
	start := p.now()
	rd, err := p.Engine.Poll(ctx)
	res := CycleResult{Result: "ok", Err: err, Elapsed: p.now().Sub(start), At: start}
	if err != nil {
		res.Result = "unexpected"
		if kind, ok := device.CycleKind(err); ok {
			res.Result = kind.String()
		}
	}

	p.mu.Lock()
	p.lastResult = res.Result
	p.lastPoll = start
	if err != nil {
		p.failures++
	} else {
		p.failures = 0
	}
	p.mu.Unlock()

	if ctx.Err() == nil {
		p.deliver(ctx, rd, res)
	}
	return rd, err
}

func (p *Poller) deliver(ctx context.Context, rd device.Reading, res CycleResult) {
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	for _, s := range p.sinks {
		if err := s.Deliver(ctx, p.Name(), rd, res); err != nil {
			p.log.Warn("sink delivery failed", zap.String("sink", s.Name()), zap.Error(err))
			if p.appm != nil {
				p.appm.SinkErrors.WithLabelValues(s.Name()).Inc()
			}
		}
	}
}

// Status 链路与轮询状态
func (p *Poller) Status() health.DeviceStatus {
	p.mu.Lock()
	st := health.DeviceStatus{
		Name:                p.Name(),
		LastResult:          p.lastResult,
		LastPoll:            p.lastPoll,
		ConsecutiveFailures: p.failures,
	}
	p.mu.Unlock()
	xs := p.ExchangeStats()
	st.DroppedFrames = xs.DroppedFrames
	st.DroppedBytes = xs.DroppedBytes
	if p.sess != nil {
		ss := p.sess.Stats()
		st.Session = ss.State
		st.Breaker = ss.Breaker.State
	}
	return st
}

// Close 关闭会话
func (p *Poller) Close() {
	if p.sess != nil {
		p.sess.Close()
	}
}
