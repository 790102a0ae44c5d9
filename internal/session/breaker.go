package session

import (
	"errors"
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // 正常，允许连接
	BreakerOpen                         // 熔断，连接直接失败
	BreakerHalfOpen                     // 半开，允许试探
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen 连续连接失败后熔断，冷却期内直接失败
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker 连接熔断器
// 连续 threshold 次建连失败后熔断，cooldown 后半开试探一次，成功即恢复
type Breaker struct {
	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailTime  time.Time
	lastStateTime time.Time
	trips         int64

	threshold int
	cooldown  time.Duration
	now       func() time.Time

	onStateChange func(from, to BreakerState)
}

// NewBreaker 创建熔断器
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:         BreakerClosed,
		threshold:     threshold,
		cooldown:      cooldown,
		now:           time.Now,
		lastStateTime: time.Now(),
	}
}

// Call 执行 fn，受熔断保护
func (b *Breaker) Call(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.lastFailTime) >= b.cooldown {
			b.transitionTo(BreakerHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case BreakerHalfOpen:
		// 会话管理器串行建连，半开期间不会有并发试探
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state != BreakerClosed {
			b.transitionTo(BreakerClosed)
		}
		return
	}

	b.failures++
	b.lastFailTime = b.now()
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.threshold {
			b.transitionTo(BreakerOpen)
			b.trips++
		}
	case BreakerHalfOpen:
		b.transitionTo(BreakerOpen)
		b.trips++
	}
}

func (b *Breaker) transitionTo(s BreakerState) {
	if b.state == s {
		return
	}
	old := b.state
	b.state = s
	b.lastStateTime = b.now()
	if b.onStateChange != nil {
		go b.onStateChange(old, s)
	}
}

// State 当前状态
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetStateChangeCallback 状态变化回调（异步执行）
func (b *Breaker) SetStateChangeCallback(fn func(from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Reset 手动恢复
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(BreakerClosed)
	b.failures = 0
}

// BreakerStats 熔断统计
type BreakerStats struct {
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	Trips           int64     `json:"trips"`
	LastStateChange time.Time `json:"last_state_change"`
}

// Stats 统计信息
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:           b.state.String(),
		Failures:        b.failures,
		Trips:           b.trips,
		LastStateChange: b.lastStateTime,
	}
}
