// Package session 管理单台设备的链路：复用、重连退避、限流、熔断、回收
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/htram-gateway/internal/transport"
)

// State 会话状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRecycling
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRecycling:
		return "recycling"
	default:
		return "unknown"
	}
}

// 回收原因
const (
	ReasonRealtimeTimeout = "realtime_timeout"
	ReasonTransportError  = "transport_error"
	ReasonStale           = "stale"
	ReasonShutdown        = "shutdown"
)

// Config 会话参数
type Config struct {
	Address          string
	ConnectAttempts  int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	ConnectTimeout   time.Duration
	ReconnectRate    float64 // 每秒建连次数
	ReconnectBurst   int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c *Config) normalize() {
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 20 * time.Second
	}
}

// Observer 记录会话事件（connect/recycle）
type Observer interface {
	Record(operation, status string)
}

// ObserverFunc 函数适配
type ObserverFunc func(operation, status string)

func (f ObserverFunc) Record(operation, status string) {
	if f != nil {
		f(operation, status)
	}
}

// NopObserver 空实现
func NopObserver() Observer {
	return ObserverFunc(func(string, string) {})
}

// Manager 单设备会话管理器
// 持久连接策略：交换结束后不主动断开，只在实时数据超时或链路硬故障时回收
type Manager struct {
	mu    sync.Mutex
	tr    transport.Transport
	cfg   Config
	conn  transport.Conn
	state State

	throttle *Throttle
	breaker  *Breaker
	observer Observer
	log      *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	connects        int64
	connectFailures int64
	recycles        int64
	lastConnected   time.Time
}

// Option 会话选项
type Option func(*Manager)

// WithObserver 事件观察者
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithLogger 日志
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithSleep 替换退避等待（测试用）
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// New 创建会话管理器
func New(tr transport.Transport, cfg Config, opts ...Option) *Manager {
	cfg.normalize()
	rate := cfg.ReconnectRate
	if rate <= 0 {
		rate = 1
	}
	m := &Manager{
		tr:       tr,
		cfg:      cfg,
		state:    StateDisconnected,
		throttle: NewThrottle(rate, cfg.ReconnectBurst),
		breaker:  NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		observer: NopObserver(),
		log:      zap.NewNop(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.breaker.SetStateChangeCallback(func(from, to BreakerState) {
		m.log.Warn("session breaker state changed",
			zap.String("address", m.cfg.Address),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		m.observer.Record("breaker", to.String())
	})
	return m
}

// Acquire 返回可用连接：复用存活连接，否则带退避重试建连
func (m *Manager) Acquire(ctx context.Context) (transport.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		if m.conn.IsConnected() {
			return m.conn, nil
		}
		// 对端已断开，清理后重连
		m.dropLocked(ReasonStale)
	}

	var conn transport.Conn
	err := m.breaker.Call(func() error {
		var err error
		conn, err = m.connectWithRetry(ctx)
		return err
	})
	if err != nil {
		m.state = StateDisconnected
		if errors.Is(err, ErrCircuitOpen) {
			m.observer.Record("connect", "circuit_open")
		}
		return nil, transport.Wrap("connect", err)
	}

	m.conn = conn
	m.state = StateConnected
	m.connects++
	m.lastConnected = time.Now()
	m.observer.Record("connect", "ok")
	m.log.Info("session connected", zap.String("address", m.cfg.Address))
	return conn, nil
}

func (m *Manager) connectWithRetry(ctx context.Context) (transport.Conn, error) {
	m.state = StateConnecting
	var lastErr error
	for attempt := 1; attempt <= m.cfg.ConnectAttempts; attempt++ {
		if err := m.throttle.Wait(ctx); err != nil {
			return nil, fmt.Errorf("reconnect throttled: %w", err)
		}

		cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		conn, err := m.tr.Connect(cctx, m.cfg.Address)
		cancel()
		if err == nil {
			return conn, nil
		}

		lastErr = err
		m.connectFailures++
		m.observer.Record("connect", "error")
		m.log.Warn("session connect failed",
			zap.String("address", m.cfg.Address),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.ConnectAttempts),
			zap.Error(err))

		if attempt == m.cfg.ConnectAttempts {
			break
		}
		if err := m.sleep(ctx, Backoff(m.cfg.BackoffBase, m.cfg.BackoffMax, attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("connect %s failed after %d attempts: %w", m.cfg.Address, m.cfg.ConnectAttempts, lastErr)
}

// Recycle 强制断开并清空缓存连接；断开错误只记录不返回
func (m *Manager) Recycle(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(reason)
}

// dropLocked 断开缓存连接；没有连接时只重置状态，不计回收
func (m *Manager) dropLocked(reason string) {
	if m.conn == nil {
		m.state = StateDisconnected
		return
	}
	m.state = StateRecycling
	if err := m.conn.Disconnect(); err != nil {
		m.log.Debug("session disconnect error ignored",
			zap.String("address", m.cfg.Address), zap.Error(err))
	}
	m.conn = nil
	m.state = StateDisconnected
	m.recycles++
	m.observer.Record("recycle", reason)
	m.log.Info("session recycled", zap.String("address", m.cfg.Address), zap.String("reason", reason))
}

// Close 关闭会话（退出时调用）
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.dropLocked(ReasonShutdown)
	}
}

// State 当前状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats 会话统计
type Stats struct {
	Address         string        `json:"address"`
	State           string        `json:"state"`
	Connects        int64         `json:"connects"`
	ConnectFailures int64         `json:"connect_failures"`
	Recycles        int64         `json:"recycles"`
	LastConnected   time.Time     `json:"last_connected"`
	Breaker         BreakerStats  `json:"breaker"`
	Throttle        ThrottleStats `json:"throttle"`
}

// Stats 统计信息
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Address:         m.cfg.Address,
		State:           m.state.String(),
		Connects:        m.connects,
		ConnectFailures: m.connectFailures,
		Recycles:        m.recycles,
		LastConnected:   m.lastConnected,
		Breaker:         m.breaker.Stats(),
		Throttle:        m.throttle.Stats(),
	}
}

// Backoff 第 attempt 次失败后的等待：base*2^(attempt-1)，不超过 max
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
