// Package ble 基于 tinygo bluetooth 的 transport 实现
package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/taoyao-code/htram-gateway/internal/transport"
)

// DefaultNameFilter 设备广播名包含的关键字
const DefaultNameFilter = "HTRAM"

// Advertisement 扫描到的广播
type Advertisement struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int16  `json:"rssi"`
}

// Transport BLE 链路
type Transport struct {
	adapter     *bluetooth.Adapter
	chars       transport.Characteristics
	scanTimeout time.Duration
	nameFilter  string
	log         *zap.Logger

	enableOnce sync.Once
	enableErr  error
	scanMu     sync.Mutex // 适配器同一时刻只能有一个扫描
}

// Option BLE 链路选项
type Option func(*Transport)

// WithAdapter 指定适配器（默认 bluetooth.DefaultAdapter）
func WithAdapter(a *bluetooth.Adapter) Option {
	return func(t *Transport) {
		if a != nil {
			t.adapter = a
		}
	}
}

// WithScanTimeout 单次扫描超时
func WithScanTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.scanTimeout = d
		}
	}
}

// WithNameFilter 地址为空时按广播名匹配
func WithNameFilter(s string) Option {
	return func(t *Transport) {
		if s != "" {
			t.nameFilter = s
		}
	}
}

// WithLogger 日志
func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// New 创建 BLE 链路
func New(chars transport.Characteristics, opts ...Option) *Transport {
	t := &Transport{
		adapter:     bluetooth.DefaultAdapter,
		chars:       chars,
		scanTimeout: 15 * time.Second,
		nameFilter:  DefaultNameFilter,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) enable() error {
	t.enableOnce.Do(func() {
		t.enableErr = t.adapter.Enable()
	})
	return t.enableErr
}

// Scan 在 d 时间内收集广播名包含关键字的设备
func (t *Transport) Scan(ctx context.Context, d time.Duration) ([]Advertisement, error) {
	if err := t.enable(); err != nil {
		return nil, transport.Wrap("scan", err)
	}
	seen := make(map[string]Advertisement)
	var mu sync.Mutex
	_, err := t.scan(ctx, d, func(adv Advertisement) bool {
		if t.matchName(adv.Name) {
			mu.Lock()
			seen[adv.Address] = adv
			mu.Unlock()
		}
		return false
	})
	if err != nil && ctx.Err() != nil {
		return nil, transport.Wrap("scan", err)
	}
	out := make([]Advertisement, 0, len(seen))
	for _, adv := range seen {
		out = append(out, adv)
	}
	return out, nil
}

// Connect 扫描目标设备并建立 GATT 连接
// address 为空时连接第一个广播名匹配的设备
func (t *Transport) Connect(ctx context.Context, address string) (transport.Conn, error) {
	if err := t.enable(); err != nil {
		return nil, transport.Wrap("connect", err)
	}

	want := strings.ToUpper(strings.TrimSpace(address))
	res, err := t.scan(ctx, t.scanTimeout, func(adv Advertisement) bool {
		if want != "" {
			return strings.EqualFold(adv.Address, want)
		}
		return t.matchName(adv.Name)
	})
	if err != nil {
		return nil, transport.Wrap("connect", err)
	}

	t.log.Debug("ble device found",
		zap.String("address", res.Address.String()),
		zap.String("name", res.LocalName()),
		zap.Int16("rssi", res.RSSI))

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = connectionTimeout(time.Until(deadline))
	}

	// Linux 下 adapter.Connect 无超时，连接与服务发现放到后台，由 ctx 控制等待
	l, err := within(ctx, func() (link, error) {
		dev, err := t.adapter.Connect(res.Address, params)
		if err != nil {
			return link{}, err
		}
		chars, err := t.discover(dev)
		if err != nil {
			_ = dev.Disconnect()
			return link{}, err
		}
		return link{device: dev, chars: chars}, nil
	}, func(l link) {
		t.log.Warn("ble connect finished after deadline, disconnecting",
			zap.String("address", res.Address.String()))
		_ = l.device.Disconnect()
	})
	if err != nil {
		return nil, transport.Wrap("connect", err)
	}

	return newConn(l.device, l.chars, t.log.With(zap.String("address", res.Address.String()))), nil
}

// link 一次成功的连接与发现结果
type link struct {
	device bluetooth.Device
	chars  map[uuid.UUID]gattChar
}

// maxConnectionTimeout ConnectionParams 可表示的最大超时（uint16 个 0.625ms）
const maxConnectionTimeout = time.Duration(65535) * 625 * time.Microsecond

func connectionTimeout(d time.Duration) bluetooth.Duration {
	if d <= 0 {
		return 0
	}
	if d > maxConnectionTimeout {
		d = maxConnectionTimeout
	}
	return bluetooth.NewDuration(d)
}

type dialResult[T any] struct {
	v   T
	err error
}

// within 在 ctx 内等待 dial 返回；ctx 先结束时立即返回，迟到的成功结果交给 release
func within[T any](ctx context.Context, dial func() (T, error), release func(T)) (T, error) {
	done := make(chan dialResult[T], 1)
	go func() {
		v, err := dial()
		done <- dialResult[T]{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil && release != nil {
				release(r.v)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}

func (t *Transport) matchName(name string) bool {
	return strings.Contains(strings.ToUpper(name), strings.ToUpper(t.nameFilter))
}

// scan 扫描直到 match 返回 true、超时或 ctx 取消
func (t *Transport) scan(ctx context.Context, d time.Duration, match func(Advertisement) bool) (bluetooth.ScanResult, error) {
	t.scanMu.Lock()
	defer t.scanMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var (
		found bluetooth.ScanResult
		ok    bool
		once  sync.Once
	)
	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			adv := Advertisement{Address: r.Address.String(), Name: r.LocalName(), RSSI: r.RSSI}
			if match(adv) {
				once.Do(func() {
					found, ok = r, true
					_ = a.StopScan()
				})
			}
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return found, err
		}
	case <-ctx.Done():
		_ = t.adapter.StopScan()
		<-done
	}
	if !ok {
		if ctx.Err() != nil {
			return found, fmt.Errorf("%w: %v", transport.ErrDeviceNotFound, ctx.Err())
		}
		return found, transport.ErrDeviceNotFound
	}
	return found, nil
}

func (t *Transport) discover(dev bluetooth.Device) (map[uuid.UUID]gattChar, error) {
	svcUUID, err := bluetooth.ParseUUID(t.chars.Service.String())
	if err != nil {
		return nil, err
	}
	notifyUUID, err := bluetooth.ParseUUID(t.chars.Notify.String())
	if err != nil {
		return nil, err
	}
	writeUUID, err := bluetooth.ParseUUID(t.chars.Write.String())
	if err != nil {
		return nil, err
	}

	svcs, err := dev.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("service %s not found", t.chars.Service)
	}
	found, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{notifyUUID, writeUUID})
	if err != nil {
		return nil, fmt.Errorf("discover characteristics: %w", err)
	}

	out := make(map[uuid.UUID]gattChar, len(found))
	for _, c := range found {
		id, err := uuid.Parse(c.UUID().String())
		if err != nil {
			continue
		}
		out[id] = &c
	}
	for _, id := range []uuid.UUID{t.chars.Notify, t.chars.Write} {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: %s", transport.ErrUnknownCharacteristic, id)
		}
	}
	return out, nil
}

// gattChar 连接用到的特征值操作
type gattChar interface {
	WriteWithoutResponse(p []byte) (int, error)
	EnableNotifications(callback func(buf []byte)) error
}

// responseWriter 平台支持带应答写时实现（darwin/windows）
type responseWriter interface {
	Write(p []byte) (int, error)
}

type peer interface {
	Disconnect() error
}

// conn 已建立的 GATT 连接
// tinygo 在 Linux 下不上报设备侧断开，connected 只在本地断开或读写失败时置 false
type conn struct {
	device    peer
	chars     map[uuid.UUID]gattChar
	connected atomic.Bool
	closed    atomic.Bool
	log       *zap.Logger
}

func newConn(device peer, chars map[uuid.UUID]gattChar, log *zap.Logger) *conn {
	c := &conn{device: device, chars: chars, log: log}
	c.connected.Store(true)
	return c
}

func (c *conn) char(op string, id uuid.UUID) (gattChar, error) {
	if !c.connected.Load() {
		return nil, transport.Wrap(op, transport.ErrNotConnected)
	}
	ch, ok := c.chars[id]
	if !ok {
		return nil, transport.Wrap(op, fmt.Errorf("%w: %s", transport.ErrUnknownCharacteristic, id))
	}
	return ch, nil
}

func (c *conn) Write(ctx context.Context, id uuid.UUID, data []byte, withResponse bool) error {
	ch, err := c.char("write", id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return transport.Wrap("write", err)
	}
	// BlueZ 的 WriteValue 按特征值属性决定是否应答
	if w, ok := ch.(responseWriter); ok && withResponse {
		_, err = w.Write(data)
	} else {
		_, err = ch.WriteWithoutResponse(data)
	}
	if err != nil {
		// 写失败后链路视为不可用，由上层回收
		c.connected.Store(false)
		return transport.Wrap("write", err)
	}
	return nil
}

func (c *conn) Subscribe(id uuid.UUID, fn func([]byte)) error {
	ch, err := c.char("subscribe", id)
	if err != nil {
		return err
	}
	if err := ch.EnableNotifications(fn); err != nil {
		// 订阅失败多为设备侧已断开
		c.connected.Store(false)
		return transport.Wrap("subscribe", err)
	}
	return nil
}

func (c *conn) Unsubscribe(id uuid.UUID) error {
	ch, err := c.char("unsubscribe", id)
	if err != nil {
		return err
	}
	return transport.Wrap("unsubscribe", ch.EnableNotifications(nil))
}

// Disconnect 只向 BlueZ 发一次断开；读写失败后仍需调用以释放连接
func (c *conn) Disconnect() error {
	c.connected.Store(false)
	if c.closed.Swap(true) {
		return nil
	}
	c.log.Debug("ble disconnect")
	return transport.Wrap("disconnect", c.device.Disconnect())
}

func (c *conn) IsConnected() bool { return c.connected.Load() }
