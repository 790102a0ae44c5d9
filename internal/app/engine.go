package app

import (
	"fmt"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/htram-gateway/internal/config"
	"github.com/taoyao-code/htram-gateway/internal/device"
	"github.com/taoyao-code/htram-gateway/internal/exchange"
	"github.com/taoyao-code/htram-gateway/internal/metrics"
	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
	"github.com/taoyao-code/htram-gateway/internal/session"
	"github.com/taoyao-code/htram-gateway/internal/transport"
)

// NewCodec 按引擎配置构造编解码器与命令目录
func NewCodec(cfg cfgpkg.EngineConfig) (*htram.Codec, *htram.Catalog, error) {
	variant, err := htram.ParseVariant(cfg.CRCVariant)
	if err != nil {
		return nil, nil, err
	}
	accepted := make([]htram.Variant, 0, len(cfg.AcceptVariants))
	for _, s := range cfg.AcceptVariants {
		v, err := htram.ParseVariant(s)
		if err != nil {
			return nil, nil, fmt.Errorf("engine.acceptVariants: %w", err)
		}
		accepted = append(accepted, v)
	}
	provision, err := htram.ParseVariant(cfg.ProvisionCRC)
	if err != nil {
		return nil, nil, fmt.Errorf("engine.provisionCRC: %w", err)
	}

	opts := []htram.CodecOption{htram.WithVariant(variant), htram.WithChecksumVerify(cfg.VerifyChecksum)}
	if len(accepted) > 0 {
		opts = append(opts, htram.WithAcceptedVariants(accepted...))
	}
	codec := htram.NewCodec(opts...)
	return codec, htram.NewCatalog(codec, htram.WithProvisioningVariant(provision)), nil
}

// NewCharacteristics 解析 BLE 特征值配置
func NewCharacteristics(cfg cfgpkg.BLEConfig) (transport.Characteristics, error) {
	return transport.ParseCharacteristics(cfg.ServiceUUID, cfg.NotifyUUID, cfg.WriteUUID)
}

// EngineParts 单台设备的装配结果
type EngineParts struct {
	Engine  *device.Engine
	Session *session.Manager
}

// NewDeviceEngine 装配单台设备：会话 → 关联器 → 引擎
// appm 为 nil 时不记录指标
func NewDeviceEngine(cfg *cfgpkg.Config, dev cfgpkg.DeviceConfig, tr transport.Transport, appm *metrics.AppMetrics, log *zap.Logger) (EngineParts, error) {
	codec, catalog, err := NewCodec(cfg.Engine)
	if err != nil {
		return EngineParts{}, err
	}
	chars, err := NewCharacteristics(cfg.BLE)
	if err != nil {
		return EngineParts{}, err
	}
	dlog := log.With(zap.String("device", dev.Name))

	sessOpts := []session.Option{session.WithLogger(dlog)}
	corrOpts := []exchange.Option{
		exchange.WithCodec(codec),
		exchange.WithWriteCharacteristic(chars.Write),
		exchange.WithWriteResponse(cfg.BLE.WriteWithAck),
		exchange.WithLogger(dlog),
	}
	engOpts := []device.Option{
		device.WithCatalog(catalog),
		device.WithCharacteristics(chars),
		device.WithLogger(log),
	}
	if appm != nil {
		sessOpts = append(sessOpts, session.WithObserver(session.ObserverFunc(appm.RecordSession)))
		corrOpts = append(corrOpts, exchange.WithObserver(exchange.ObserverFunc(appm.ObserveExchange)))
		engOpts = append(engOpts, device.WithObserver(device.ObserverFunc(appm.DeviceRecorder(dev.Name))))
	}

	sc := cfg.Session
	sess := session.New(tr, session.Config{
		Address:          dev.Address,
		ConnectAttempts:  sc.ConnectAttempts,
		BackoffBase:      sc.BackoffBase,
		BackoffMax:       sc.BackoffMax,
		ConnectTimeout:   sc.ConnectTimeout,
		ReconnectRate:    sc.ReconnectRate,
		ReconnectBurst:   sc.ReconnectBurst,
		BreakerThreshold: sc.BreakerThreshold,
		BreakerCooldown:  sc.BreakerCooldown,
	}, sessOpts...)

	ec := cfg.Engine
	engOpts = append(engOpts, device.WithCorrelator(exchange.New(corrOpts...)))
	eng := device.NewEngine(device.Config{
		Name:            dev.Name,
		Settle:          ec.Settle,
		RealtimeTimeout: ec.RealtimeTimeout,
		SoundTimeout:    ec.SoundTimeout,
		SettingsTimeout: ec.SettingsTimeout,
		CycleTimeout:    ec.CycleTimeout,
	}, sess, engOpts...)

	return EngineParts{Engine: eng, Session: sess}, nil
}
