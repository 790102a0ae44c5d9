package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/htram-gateway/internal/device"
	"github.com/taoyao-code/htram-gateway/internal/health"
	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
	"github.com/taoyao-code/htram-gateway/internal/storage/models"
)

// Controller 单台设备的读取与控制面
type Controller interface {
	Name() string
	Snapshot() device.Reading
	Poll(ctx context.Context) (device.Reading, error)
	SetMute(ctx context.Context, mute bool) error
	SetTempUnit(ctx context.Context, unit htram.TempUnit) error
	SetAlarmThresholds(ctx context.Context, low, high, screenOff *uint16) error
	SetScreenOff(ctx context.Context, minutes uint16) error
	SyncTime(ctx context.Context) error
	ProvisionWiFi(ctx context.Context, ssid, password string) error
	ProvisionMQTT(ctx context.Context, server, aesKeyB64, aesIV string) error
}

// Registry 按名称查找设备
type Registry interface {
	Lookup(name string) (Controller, bool)
	Names() []string
	Status(name string) (health.DeviceStatus, bool)
}

// HistoryReader 读数历史
type HistoryReader interface {
	History(ctx context.Context, name string, since time.Time, limit int) ([]models.Reading, error)
}

// DeviceHandler 设备 API 处理器
type DeviceHandler struct {
	devices Registry
	history HistoryReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewDeviceHandler history 可为 nil（未启用数据库）
func NewDeviceHandler(devices Registry, history HistoryReader, timeout time.Duration, logger *zap.Logger) *DeviceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 40 * time.Second
	}
	return &DeviceHandler{devices: devices, history: history, timeout: timeout, logger: logger}
}
