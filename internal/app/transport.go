package app

import (
	"fmt"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/htram-gateway/internal/config"
	"github.com/taoyao-code/htram-gateway/internal/metrics"
	"github.com/taoyao-code/htram-gateway/internal/simulator"
	"github.com/taoyao-code/htram-gateway/internal/transport"
	"github.com/taoyao-code/htram-gateway/internal/transport/ble"
)

// TransportFactory 为每台设备返回使用的传输
type TransportFactory func(dev cfgpkg.DeviceConfig) transport.Transport

// NewBLETransport 全部设备共用一个 BLE 适配器
func NewBLETransport(cfg cfgpkg.BLEConfig, log *zap.Logger) (TransportFactory, *ble.Transport, error) {
	chars, err := NewCharacteristics(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts := []ble.Option{ble.WithLogger(log)}
	if cfg.ScanTimeout > 0 {
		opts = append(opts, ble.WithScanTimeout(cfg.ScanTimeout))
	}
	if cfg.NameFilter != "" {
		opts = append(opts, ble.WithNameFilter(cfg.NameFilter))
	}
	tr := ble.New(chars, opts...)
	return func(cfgpkg.DeviceConfig) transport.Transport { return tr }, tr, nil
}

// NewSimulatedTransport 每台设备一个内存模拟器
func NewSimulatedTransport(cfg cfgpkg.BLEConfig, log *zap.Logger) (TransportFactory, error) {
	chars, err := NewCharacteristics(cfg)
	if err != nil {
		return nil, err
	}
	return func(dev cfgpkg.DeviceConfig) transport.Transport {
		return simulator.New(
			simulator.WithCharacteristics(chars),
			simulator.WithDrift(),
			simulator.WithLogger(log.With(zap.String("sim", dev.Name))),
		)
	}, nil
}

// BuildDevices 按配置为每台设备装配轮询器
func BuildDevices(cfg *cfgpkg.Config, factory TransportFactory, sinks []Sink, appm *metrics.AppMetrics, log *zap.Logger) (*Devices, error) {
	devices := NewDevices()
	for _, dev := range cfg.Devices {
		parts, err := NewDeviceEngine(cfg, dev, factory(dev), appm, log)
		if err != nil {
			devices.Close()
			return nil, fmt.Errorf("device %s: %w", dev.Name, err)
		}
		devices.Add(NewPoller(parts, dev.PollInterval, sinks, appm, log))
	}
	return devices, nil
}
