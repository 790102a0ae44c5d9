// Package simulator 进程内模拟 HTRAM 设备，实现 transport 接口
// 用于 --simulate 运行与引擎端到端测试
package simulator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
	"github.com/taoyao-code/htram-gateway/internal/transport"
)

// ErrInjected 注入的链路错误
var ErrInjected = errors.New("injected failure")

// State 设备内部状态
type State struct {
	CO2         uint16
	Temperature int16
	Humidity    uint8
	BatteryBars uint8
	Charging    bool
	Mute        bool
	AlarmLow    uint16
	AlarmHigh   uint16
	ScreenOff   uint16
	TempUnit    htram.TempUnit
	Clock       time.Time
	SSID        string
	Password    string
	MQTTServer  string
}

// DefaultState 出厂状态
func DefaultState() State {
	return State{
		CO2:         650,
		Temperature: 22,
		Humidity:    45,
		BatteryBars: 3,
		AlarmLow:    800,
		AlarmHigh:   1000,
		ScreenOff:   0,
		TempUnit:    htram.TempUnitCelsius,
	}
}

// Device 模拟设备
type Device struct {
	mu    sync.Mutex
	state State
	chars transport.Characteristics
	codec *htram.Codec
	log   *zap.Logger

	replyDelay   time.Duration
	chunkSize    int
	drift        bool
	failConnects int
	writeErr     error
	silent       map[htram.ReplyKind]int // 剩余静默次数，<0 为一直静默
	extra        [][]byte                // 下次应答前额外推送的原始通知

	current     *conn
	connects    int
	disconnects int
	writes      []htram.Frame
	wg          sync.WaitGroup
}

// Option 模拟器选项
type Option func(*Device)

// WithState 初始状态
func WithState(s State) Option { return func(d *Device) { d.state = s } }

// WithReplyDelay 应答延迟
func WithReplyDelay(delay time.Duration) Option {
	return func(d *Device) { d.replyDelay = delay }
}

// WithChunkSize 应答按 n 字节拆分为多次通知（模拟 BLE MTU）
func WithChunkSize(n int) Option { return func(d *Device) { d.chunkSize = n } }

// WithDrift 每次实时应答随机漂移读数
func WithDrift() Option { return func(d *Device) { d.drift = true } }

// WithLogger 日志
func WithLogger(l *zap.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// WithCharacteristics 特征值
func WithCharacteristics(c transport.Characteristics) Option {
	return func(d *Device) { d.chars = c }
}

// New 创建模拟设备
func New(opts ...Option) *Device {
	d := &Device{
		state:  DefaultState(),
		chars:  transport.DefaultCharacteristics(),
		codec:  htram.NewCodec(htram.WithChecksumVerify(false)),
		log:    zap.NewNop(),
		silent: make(map[htram.ReplyKind]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FailConnects 接下来 n 次连接失败
func (d *Device) FailConnects(n int) {
	d.mu.Lock()
	d.failConnects = n
	d.mu.Unlock()
}

// FailWrites 之后所有写入返回 err（nil 恢复）
func (d *Device) FailWrites(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

// Silence 接下来 n 次 kind 类请求不应答；n<0 一直不应答
func (d *Device) Silence(kind htram.ReplyKind, n int) {
	d.mu.Lock()
	d.silent[kind] = n
	d.mu.Unlock()
}

// Inject 下一次应答前先推送 raw（可用于未知帧、噪声）
func (d *Device) Inject(raw []byte) {
	d.mu.Lock()
	d.extra = append(d.extra, append([]byte(nil), raw...))
	d.mu.Unlock()
}

// State 当前状态副本
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetState 覆盖状态
func (d *Device) SetState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Writes 收到的全部下行帧
func (d *Device) Writes() []htram.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]htram.Frame, len(d.writes))
	copy(out, d.writes)
	return out
}

// WrittenCommands 收到的下行命令字序列
func (d *Device) WrittenCommands() []htram.CommandID {
	frames := d.Writes()
	out := make([]htram.CommandID, len(frames))
	for i, f := range frames {
		out[i] = f.Command()
	}
	return out
}

// ResetWrites 清空写入记录
func (d *Device) ResetWrites() {
	d.mu.Lock()
	d.writes = nil
	d.mu.Unlock()
}

// Connects 成功连接次数
func (d *Device) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Disconnects 断开次数
func (d *Device) Disconnects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

// Wait 等待所有在途应答投递完毕
func (d *Device) Wait() { d.wg.Wait() }

// Connect 实现 transport.Transport；同一时刻只保留一条连接
func (d *Device) Connect(ctx context.Context, address string) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, transport.Wrap("connect", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failConnects > 0 {
		d.failConnects--
		return nil, transport.Wrap("connect", ErrInjected)
	}
	if d.current != nil && d.current.alive {
		d.current.alive = false
		d.disconnects++
	}
	c := &conn{dev: d, address: address, alive: true}
	d.current = c
	d.connects++
	d.log.Debug("simulator connected", zap.String("address", address), zap.Int("connects", d.connects))
	return c, nil
}

type conn struct {
	dev     *Device
	address string
	alive   bool
	notify  func([]byte)
}

func (c *conn) Write(ctx context.Context, char uuid.UUID, data []byte, withResponse bool) error {
	d := c.dev
	d.mu.Lock()
	if !c.alive {
		d.mu.Unlock()
		return transport.Wrap("write", transport.ErrNotConnected)
	}
	if char != d.chars.Write {
		d.mu.Unlock()
		return transport.Wrap("write", transport.ErrUnknownCharacteristic)
	}
	if d.writeErr != nil {
		err := d.writeErr
		d.mu.Unlock()
		return transport.Wrap("write", err)
	}

	f, err := d.codec.Decode(data)
	if err != nil {
		d.mu.Unlock()
		d.log.Debug("simulator dropped malformed frame", zap.Error(err))
		return nil
	}
	d.writes = append(d.writes, f)
	reply, kind := d.handle(f)
	if reply == nil || d.consumeSilence(kind) {
		d.mu.Unlock()
		return nil
	}
	pending := append(d.extra, reply)
	d.extra = nil
	d.wg.Add(1)
	d.mu.Unlock()

	go d.deliver(c, pending)
	return nil
}

func (d *Device) consumeSilence(kind htram.ReplyKind) bool {
	n, ok := d.silent[kind]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		d.silent[kind] = n - 1
	}
	return true
}

// deliver 在独立 goroutine 中推送通知，与真实链路的回调线程一致
func (d *Device) deliver(c *conn, frames [][]byte) {
	defer d.wg.Done()
	if d.replyDelay > 0 {
		time.Sleep(d.replyDelay)
	}
	for _, raw := range frames {
		for _, chunk := range d.split(raw) {
			d.mu.Lock()
			fn := c.notify
			alive := c.alive
			d.mu.Unlock()
			if !alive || fn == nil {
				return
			}
			fn(chunk)
		}
	}
}

func (d *Device) split(raw []byte) [][]byte {
	if d.chunkSize <= 0 || len(raw) <= d.chunkSize {
		return [][]byte{raw}
	}
	var out [][]byte
	for len(raw) > 0 {
		n := d.chunkSize
		if n > len(raw) {
			n = len(raw)
		}
		out = append(out, raw[:n])
		raw = raw[n:]
	}
	return out
}

// handle 更新状态并生成应答；调用方持有锁
func (d *Device) handle(f htram.Frame) ([]byte, htram.ReplyKind) {
	p := f.Payload()
	s := &d.state
	switch f.Command() {
	case htram.CmdGetRealtime:
		if d.drift {
			d.driftLocked()
		}
		return RealtimeReply(*s), htram.ReplyRealtime
	case htram.CmdGetSoundStatus:
		return SoundReply(s.Mute), htram.ReplySound
	case htram.CmdGetSettings:
		return SettingsReply(s.AlarmLow, s.AlarmHigh, s.ScreenOff), htram.ReplySettings
	case htram.CmdSetSound:
		if len(p) >= 4 {
			s.Mute = p[3] == 0
		}
	case htram.CmdSetTempUnit:
		if len(p) >= 3 {
			s.TempUnit = htram.TempUnitCelsius
			if p[2] == 1 {
				s.TempUnit = htram.TempUnitFahrenheit
			}
		}
	case htram.CmdSetAlarm:
		switch {
		case len(p) >= 10 && p[2] == 0x40:
			s.AlarmLow = binary.BigEndian.Uint16(p[4:6])
			s.AlarmHigh = binary.BigEndian.Uint16(p[6:8])
			s.ScreenOff = binary.BigEndian.Uint16(p[8:10])
		case len(p) >= 6 && p[2] == 0x20:
			s.ScreenOff = binary.BigEndian.Uint16(p[4:6])
		}
	case htram.CmdSyncTime:
		if len(p) >= 7 {
			s.Clock = time.Date(2000+int(p[1]), time.Month(p[2]), int(p[3]), int(p[4]), int(p[5]), int(p[6]), 0, time.UTC)
		}
	case htram.CmdSubmitSSID:
		if len(p) >= 154 {
			pwdLen := int(p[23])
			if pwdLen <= 64 {
				s.Password = string(p[24 : 24+pwdLen])
			}
			s.SSID = string(bytes.TrimRight(p[88:121], "\x00"))
		}
	case htram.CmdSubmitAESKey:
		if fields := splitPrefixed(p); len(fields) == 3 {
			s.MQTTServer = string(fields[2])
		}
	}
	return nil, htram.ReplyNone
}

func (d *Device) driftLocked() {
	s := &d.state
	delta := rand.Intn(41) - 20
	co2 := int(s.CO2) + delta
	if co2 < 400 {
		co2 = 400
	}
	s.CO2 = uint16(co2)
	if h := int(s.Humidity) + rand.Intn(3) - 1; h >= 0 && h <= 100 {
		s.Humidity = uint8(h)
	}
}

// splitPrefixed 解析 01 + (长度+内容)*n
func splitPrefixed(p []byte) [][]byte {
	if len(p) == 0 || p[0] != 0x01 {
		return nil
	}
	var out [][]byte
	rest := p[1:]
	for len(rest) > 0 {
		n := int(rest[0])
		if len(rest) < 1+n {
			return nil
		}
		out = append(out, rest[1:1+n])
		rest = rest[1+n:]
	}
	return out
}

func (c *conn) Subscribe(char uuid.UUID, fn func([]byte)) error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !c.alive {
		return transport.Wrap("subscribe", transport.ErrNotConnected)
	}
	if char != d.chars.Notify {
		return transport.Wrap("subscribe", transport.ErrUnknownCharacteristic)
	}
	c.notify = fn
	return nil
}

func (c *conn) Unsubscribe(char uuid.UUID) error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !c.alive {
		return transport.Wrap("unsubscribe", transport.ErrNotConnected)
	}
	c.notify = nil
	return nil
}

func (c *conn) Disconnect() error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !c.alive {
		return nil
	}
	c.alive = false
	c.notify = nil
	d.disconnects++
	return nil
}

func (c *conn) IsConnected() bool {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return c.alive
}

// Drop 模拟设备侧断链（如超出范围）
func (d *Device) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil && d.current.alive {
		d.current.alive = false
		d.current.notify = nil
		d.disconnects++
	}
}
