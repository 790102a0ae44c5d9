// Package device 设备协议引擎：轮询周期、写命令与状态存储
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/htram-gateway/internal/exchange"
	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
	"github.com/taoyao-code/htram-gateway/internal/session"
	"github.com/taoyao-code/htram-gateway/internal/transport"
)

// 默认时序
const (
	DefaultSettle       = 500 * time.Millisecond
	DefaultCycleTimeout = 30 * time.Second
)

// Session 链路会话（session.Manager 实现）
type Session interface {
	Acquire(ctx context.Context) (transport.Conn, error)
	Recycle(ctx context.Context, reason string)
}

// Config 引擎参数
type Config struct {
	Name            string
	Settle          time.Duration
	RealtimeTimeout time.Duration
	SoundTimeout    time.Duration
	SettingsTimeout time.Duration
	CycleTimeout    time.Duration
}

func (c *Config) normalize() {
	if c.Settle < 0 {
		c.Settle = 0
	}
	if c.RealtimeTimeout <= 0 {
		c.RealtimeTimeout = exchange.DefaultRealtimeTimeout
	}
	if c.SoundTimeout <= 0 {
		c.SoundTimeout = exchange.DefaultSoundTimeout
	}
	if c.SettingsTimeout <= 0 {
		c.SettingsTimeout = exchange.DefaultSettingsTimeout
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = DefaultCycleTimeout
	}
}

// DefaultConfig 默认参数
func DefaultConfig(name string) Config {
	c := Config{Name: name, Settle: DefaultSettle}
	c.normalize()
	return c
}

// Observer 记录轮询与写命令结果
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

// Engine 单设备协议引擎
// 引擎锁保证同一时刻只有一个交换序列（轮询或写命令）
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	sess    Session
	corr    *exchange.Correlator
	store   *Store
	catalog *htram.Catalog
	chars   transport.Characteristics

	observer Observer
	log      *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option 引擎选项
type Option func(*Engine)

// WithCorrelator 关联器
func WithCorrelator(c *exchange.Correlator) Option {
	return func(e *Engine) {
		if c != nil {
			e.corr = c
		}
	}
}

// WithCatalog 命令目录
func WithCatalog(c *htram.Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithCharacteristics 特征值
func WithCharacteristics(c transport.Characteristics) Option {
	return func(e *Engine) { e.chars = c }
}

// WithObserver 观察者
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger 日志
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithNow 时钟（SyncTime 使用）
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine 创建引擎；状态存储在此时创建为空
func NewEngine(cfg Config, sess Session, opts ...Option) *Engine {
	cfg.normalize()
	e := &Engine{
		cfg:      cfg,
		sess:     sess,
		store:    NewStore(),
		catalog:  htram.NewCatalog(nil),
		chars:    transport.DefaultCharacteristics(),
		observer: ObserverFunc(nil),
		log:      zap.NewNop(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.corr == nil {
		e.corr = exchange.New(exchange.WithWriteCharacteristic(e.chars.Write), exchange.WithLogger(e.log))
	}
	e.log = e.log.With(zap.String("device", cfg.Name))
	return e
}

// Name 设备名
func (e *Engine) Name() string { return e.cfg.Name }

// Snapshot 最近状态
func (e *Engine) Snapshot() Reading { return e.store.Snapshot() }

// ExchangeStats 通知丢弃计数
func (e *Engine) ExchangeStats() exchange.Stats { return e.corr.Stats() }

// Poll 执行一次完整轮询周期，返回合并后的快照
func (e *Engine) Poll(ctx context.Context) (Reading, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CycleTimeout)
	defer cancel()

	start := e.now()
	err := e.poll(ctx)
	if err != nil {
		ce := classify(ctx, err)
		e.observer.Record("poll", ce.Kind.String())
		e.log.Warn("poll cycle failed",
			zap.String("kind", ce.Kind.String()),
			zap.Duration("elapsed", e.now().Sub(start)),
			zap.Error(err))
		return e.store.Snapshot(), ce
	}
	e.observer.Record("poll", "ok")
	e.log.Debug("poll cycle done", zap.Duration("elapsed", e.now().Sub(start)))
	return e.store.Snapshot(), nil
}

type step struct {
	cmd     htram.Command
	timeout time.Duration
	apply   func(f htram.Frame) error
}

func (e *Engine) poll(ctx context.Context) error {
	conn, err := e.sess.Acquire(ctx)
	if err != nil {
		// 未建立连接，无需回收
		return err
	}

	e.corr.Reset()
	if err := conn.Subscribe(e.chars.Notify, e.corr.HandleNotification); err != nil {
		return e.abort(ctx, conn, transport.Wrap("subscribe", err))
	}

	if err := e.corr.Send(ctx, conn, e.catalog.Heartbeat()); err != nil {
		return e.abort(ctx, conn, err)
	}
	if err := e.sleep(ctx, e.cfg.Settle); err != nil {
		return e.abort(ctx, conn, err)
	}

	steps := []step{
		{e.catalog.GetRealtime(), e.cfg.RealtimeTimeout, e.applyRealtime},
		{e.catalog.GetSoundStatus(), e.cfg.SoundTimeout, e.applySound},
		{e.catalog.GetSettings(), e.cfg.SettingsTimeout, e.applySettings},
	}
	realtimeTimedOut := false
	for _, s := range steps {
		f, err := e.corr.SendAndWait(ctx, conn, s.cmd, s.timeout)
		switch {
		case err == nil:
			if derr := s.apply(f); derr != nil {
				e.log.Warn("decode reply failed", zap.String("cmd", s.cmd.Name), zap.String("hex", f.Hex()), zap.Error(derr))
			}
		case errors.Is(err, exchange.ErrTimeout):
			e.log.Info("no reply", zap.String("cmd", s.cmd.Name), zap.Duration("timeout", s.timeout))
			if s.cmd.Reply == htram.ReplyRealtime {
				realtimeTimedOut = true
			}
		default:
			return e.abort(ctx, conn, err)
		}
	}

	if err := conn.Unsubscribe(e.chars.Notify); err != nil {
		e.log.Debug("unsubscribe failed", zap.Error(err))
	}
	if realtimeTimedOut {
		// 实时数据无应答：回收一次，下个周期重新建连
		e.sess.Recycle(context.Background(), session.ReasonRealtimeTimeout)
	}
	return nil
}

// abort 中止周期：尽力退订；链路错误或周期超时时回收连接
func (e *Engine) abort(ctx context.Context, conn transport.Conn, err error) error {
	if conn.IsConnected() {
		_ = conn.Unsubscribe(e.chars.Notify)
	}
	if ctx.Err() == nil && !transport.IsTransportError(err) {
		return err
	}
	e.sess.Recycle(context.Background(), session.ReasonTransportError)
	return err
}

func (e *Engine) applyRealtime(f htram.Frame) error {
	rt, err := htram.DecodeRealtime(f)
	if err != nil {
		return err
	}
	e.store.ApplyRealtime(rt)
	return nil
}

func (e *Engine) applySound(f htram.Frame) error {
	s, err := htram.DecodeSound(f)
	if err != nil {
		return err
	}
	e.store.ApplySound(s)
	return nil
}

func (e *Engine) applySettings(f htram.Frame) error {
	s, err := htram.DecodeSettings(f)
	if err != nil {
		return err
	}
	e.store.ApplySettings(s)
	return nil
}

// write 获取会话、写命令、成功后执行乐观更新；失败不重试
func (e *Engine) write(ctx context.Context, op string, cmd htram.Command, optimistic func()) error {
	return e.writeWith(ctx, op, func() (htram.Command, func(), error) {
		return cmd, optimistic, nil
	})
}

// writeWith 在持有引擎锁后再构造命令，依赖当前快照的命令不会读到过期值
func (e *Engine) writeWith(ctx context.Context, op string, build func() (htram.Command, func(), error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cmd, optimistic, err := build()
	if err != nil {
		return err
	}
	conn, err := e.sess.Acquire(ctx)
	if err != nil {
		e.observer.Record(op, "error")
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := e.corr.Send(ctx, conn, cmd); err != nil {
		e.sess.Recycle(context.Background(), session.ReasonTransportError)
		e.observer.Record(op, "error")
		return fmt.Errorf("%s: %w", op, err)
	}
	if optimistic != nil {
		optimistic()
	}
	e.observer.Record(op, "ok")
	e.log.Info("command sent", zap.String("op", op), zap.String("cmd", cmd.Name))
	return nil
}

// SetMute 静音/取消静音
func (e *Engine) SetMute(ctx context.Context, mute bool) error {
	return e.write(ctx, "set_mute", e.catalog.SetSound(!mute), func() { e.store.SetMute(mute) })
}

// SetTempUnit 设置温度单位
func (e *Engine) SetTempUnit(ctx context.Context, unit htram.TempUnit) error {
	cmd, err := e.catalog.SetTempUnit(unit)
	if err != nil {
		return err
	}
	return e.write(ctx, "set_temp_unit", cmd, func() { e.store.SetTempUnit(unit) })
}

// SetAlarmThresholds 更新阈值；nil 保留当前值（未知时取默认 800/1000/0）
func (e *Engine) SetAlarmThresholds(ctx context.Context, low, high, screenOff *uint16) error {
	return e.writeWith(ctx, "set_thresholds", func() (htram.Command, func(), error) {
		curLow, curHigh, curScreen := e.store.Snapshot().Thresholds()
		l, h, s := valueOr(low, curLow), valueOr(high, curHigh), valueOr(screenOff, curScreen)
		cmd, err := e.catalog.SetAlarmThresholds(l, h, s)
		if err != nil {
			return htram.Command{}, nil, err
		}
		return cmd, func() { e.store.SetThresholds(l, h, s) }, nil
	})
}

// SetScreenOff 设置息屏时间（分钟）
func (e *Engine) SetScreenOff(ctx context.Context, minutes uint16) error {
	return e.write(ctx, "set_screen_off", e.catalog.SetScreenOff(minutes), func() { e.store.SetScreenOff(minutes) })
}

// SyncTime 以 UTC 同步设备时钟
func (e *Engine) SyncTime(ctx context.Context) error {
	return e.write(ctx, "sync_time", e.catalog.SyncTime(e.now().UTC()), nil)
}

// ProvisionWiFi 下发 Wi-Fi 配网
func (e *Engine) ProvisionWiFi(ctx context.Context, ssid, password string) error {
	cmd, err := e.catalog.SubmitSSID(ssid, password)
	if err != nil {
		return err
	}
	return e.write(ctx, "provision_wifi", cmd, nil)
}

// ProvisionMQTT 下发云端 MQTT 服务器与 AES 密钥
func (e *Engine) ProvisionMQTT(ctx context.Context, server, aesKeyB64, aesIV string) error {
	cmd, err := e.catalog.SubmitAESKey(aesKeyB64, aesIV, server)
	if err != nil {
		return err
	}
	return e.write(ctx, "provision_mqtt", cmd, nil)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
