package app

import (
	"context"
	"sync"

	"github.com/taoyao-code/htram-gateway/internal/api"
	"github.com/taoyao-code/htram-gateway/internal/health"
)

// Devices 按配置顺序保存各设备的轮询器
type Devices struct {
	order   []string
	pollers map[string]*Poller
}

// NewDevices 空注册表
func NewDevices() *Devices {
	return &Devices{pollers: make(map[string]*Poller)}
}

// Add 注册轮询器；名称由配置校验保证唯一
func (d *Devices) Add(p *Poller) {
	if _, ok := d.pollers[p.Name()]; !ok {
		d.order = append(d.order, p.Name())
	}
	d.pollers[p.Name()] = p
}

// Get 按名称查找
func (d *Devices) Get(name string) (*Poller, bool) {
	p, ok := d.pollers[name]
	return p, ok
}

// Lookup 实现 api.Registry
func (d *Devices) Lookup(name string) (api.Controller, bool) {
	p, ok := d.pollers[name]
	if !ok {
		return nil, false
	}
	return p, true
}

// Names 配置顺序的设备名
func (d *Devices) Names() []string {
	return append([]string(nil), d.order...)
}

// Status 单台设备状态
func (d *Devices) Status(name string) (health.DeviceStatus, bool) {
	p, ok := d.pollers[name]
	if !ok {
		return health.DeviceStatus{}, false
	}
	return p.Status(), true
}

// Statuses 全部设备状态
func (d *Devices) Statuses() []health.DeviceStatus {
	out := make([]health.DeviceStatus, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.pollers[name].Status())
	}
	return out
}

// RunAll 每台设备一个 goroutine，阻塞到 ctx 取消且全部退出
func (d *Devices) RunAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range d.order {
		p := d.pollers[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}
	wg.Wait()
}

// Close 关闭全部会话
func (d *Devices) Close() {
	for _, p := range d.pollers {
		p.Close()
	}
}
