// Package exchange 把通知流转换为带超时的请求-应答
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
	"github.com/taoyao-code/htram-gateway/internal/transport"
)

// ErrTimeout 等待应答超时（槽位已放弃）
var ErrTimeout = errors.New("exchange timeout")

// 各类应答默认超时
const (
	DefaultRealtimeTimeout = 5 * time.Second
	DefaultSoundTimeout    = 5 * time.Second
	DefaultSettingsTimeout = 5 * time.Second
)

// 交换结果
const (
	ResultOK        = "ok"
	ResultTimeout   = "timeout"
	ResultError     = "error"
	ResultCanceled  = "canceled"
	ResultSent      = "sent"
	ResultDropped   = "dropped"
	ResultMalformed = "malformed"
)

// Observer 记录交换结果与耗时
type Observer interface {
	Exchange(kind, result string, elapsed time.Duration)
}

// ObserverFunc 函数适配
type ObserverFunc func(kind, result string, elapsed time.Duration)

func (f ObserverFunc) Exchange(kind, result string, elapsed time.Duration) {
	if f != nil {
		f(kind, result, elapsed)
	}
}

// NopObserver 空实现
func NopObserver() Observer {
	return ObserverFunc(func(string, string, time.Duration) {})
}

// slot 单次等待；ch 容量为1，只会被填充一次
type slot struct {
	ch chan htram.Frame
}

// Correlator 每种应答一个槽位的会合点
// 先登记槽位再写入；通知到达时第一个匹配帧填充槽位，之后同类帧在下次登记前丢弃
type Correlator struct {
	mu    sync.Mutex
	slots map[htram.ReplyKind]*slot
	asm   htram.Reassembler

	codec        *htram.Codec
	writeChar    uuid.UUID
	withResponse bool
	observer     Observer
	log          *zap.Logger
	now          func() time.Time

	dropped int64
}

// Option 选项
type Option func(*Correlator)

// WithCodec 解码器（决定接受的 CRC 变体）
func WithCodec(c *htram.Codec) Option {
	return func(x *Correlator) {
		if c != nil {
			x.codec = c
		}
	}
}

// WithWriteCharacteristic 写特征值
func WithWriteCharacteristic(id uuid.UUID) Option {
	return func(x *Correlator) { x.writeChar = id }
}

// WithWriteResponse 使用带应答的 GATT 写
func WithWriteResponse(on bool) Option {
	return func(x *Correlator) { x.withResponse = on }
}

// WithObserver 观察者
func WithObserver(o Observer) Option {
	return func(x *Correlator) {
		if o != nil {
			x.observer = o
		}
	}
}

// WithLogger 日志
func WithLogger(l *zap.Logger) Option {
	return func(x *Correlator) {
		if l != nil {
			x.log = l
		}
	}
}

// New 创建关联器
func New(opts ...Option) *Correlator {
	x := &Correlator{
		slots:     make(map[htram.ReplyKind]*slot),
		codec:     htram.NewCodec(),
		writeChar: transport.DefaultCharacteristics().Write,
		observer:  NopObserver(),
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Send 只写不等
func (x *Correlator) Send(ctx context.Context, conn transport.Conn, cmd htram.Command) error {
	start := x.now()
	if err := x.write(ctx, conn, cmd); err != nil {
		x.observer.Exchange(cmd.Name, ResultError, x.now().Sub(start))
		return err
	}
	x.observer.Exchange(cmd.Name, ResultSent, x.now().Sub(start))
	return nil
}

// SendAndWait 登记槽位、写入、等待应答
// 同类型的第二次调用会替换槽位，先前的等待者随后超时
func (x *Correlator) SendAndWait(ctx context.Context, conn transport.Conn, cmd htram.Command, timeout time.Duration) (htram.Frame, error) {
	if !cmd.ExpectsReply() {
		return htram.Frame{}, x.Send(ctx, conn, cmd)
	}
	kind := cmd.Reply
	label := kind.String()
	start := x.now()

	s := &slot{ch: make(chan htram.Frame, 1)}
	x.mu.Lock()
	x.slots[kind] = s
	x.mu.Unlock()

	if err := x.write(ctx, conn, cmd); err != nil {
		x.abandon(kind, s)
		x.observer.Exchange(label, ResultError, x.now().Sub(start))
		return htram.Frame{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-s.ch:
		x.observer.Exchange(label, ResultOK, x.now().Sub(start))
		return f, nil
	case <-timer.C:
		x.abandon(kind, s)
		x.resetPartial()
		x.observer.Exchange(label, ResultTimeout, x.now().Sub(start))
		return htram.Frame{}, fmt.Errorf("%w: %s after %s", ErrTimeout, label, timeout)
	case <-ctx.Done():
		x.abandon(kind, s)
		x.observer.Exchange(label, ResultCanceled, x.now().Sub(start))
		return htram.Frame{}, ctx.Err()
	}
}

func (x *Correlator) write(ctx context.Context, conn transport.Conn, cmd htram.Command) error {
	raw := cmd.Frame.Bytes()
	x.log.Debug("tx", zap.String("cmd", cmd.Name), zap.String("hex", cmd.Frame.Hex()))
	if err := conn.Write(ctx, x.writeChar, raw, x.withResponse); err != nil {
		return transport.Wrap("write", err)
	}
	return nil
}

// abandon 仅当槽位仍是自己登记的那个时移除
func (x *Correlator) abandon(kind htram.ReplyKind, s *slot) {
	x.mu.Lock()
	if x.slots[kind] == s {
		delete(x.slots, kind)
	}
	x.mu.Unlock()
}

func (x *Correlator) resetPartial() {
	x.mu.Lock()
	x.asm.Reset()
	x.mu.Unlock()
}

// HandleNotification 通知回调，在链路 goroutine 上执行
func (x *Correlator) HandleNotification(chunk []byte) {
	x.mu.Lock()
	frames := x.asm.Feed(chunk)
	x.mu.Unlock()

	for _, raw := range frames {
		f, err := x.codec.Decode(raw)
		if err != nil {
			x.log.Debug("rx malformed frame", zap.Binary("raw", raw), zap.Error(err))
			x.observer.Exchange("notify", ResultMalformed, 0)
			continue
		}
		x.log.Debug("rx", zap.String("cmd", f.Command().String()), zap.String("hex", f.Hex()))

		kind, ok := htram.ReplyKindOf(f.Command())
		if !ok {
			x.drop()
			continue
		}

		x.mu.Lock()
		s := x.slots[kind]
		if s != nil {
			delete(x.slots, kind)
		}
		x.mu.Unlock()

		if s == nil {
			x.drop()
			continue
		}
		s.ch <- f
	}
}

func (x *Correlator) drop() {
	x.mu.Lock()
	x.dropped++
	x.mu.Unlock()
	x.observer.Exchange("notify", ResultDropped, 0)
}

// Reset 清空槽位与半帧（重新订阅时调用）
func (x *Correlator) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.slots = make(map[htram.ReplyKind]*slot)
	x.asm.Reset()
}

// Pending 是否有等待中的槽位
func (x *Correlator) Pending(kind htram.ReplyKind) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.slots[kind]
	return ok
}

// Stats 通知处理计数
type Stats struct {
	DroppedFrames int64 `json:"dropped_frames"` // 未知或无人等待的应答帧
	DroppedBytes  int   `json:"dropped_bytes"`  // 拼帧时丢弃的噪声与半帧
}

// Stats 当前计数
func (x *Correlator) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()
	return Stats{DroppedFrames: x.dropped, DroppedBytes: x.asm.Dropped()}
}
