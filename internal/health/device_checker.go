package health

import (
	"context"
	"time"
)

// DeviceStatus 单台设备的链路与轮询状态
type DeviceStatus struct {
	Name                string    `json:"name"`
	Session             string    `json:"session"`
	Breaker             string    `json:"breaker"`
	LastResult          string    `json:"last_result"`
	LastPoll            time.Time `json:"last_poll"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	DroppedFrames       int64     `json:"dropped_frames"`
	DroppedBytes        int       `json:"dropped_bytes"`
}

// DeviceChecker 设备轮询健康检查
type DeviceChecker struct {
	source       func() []DeviceStatus
	failureLimit int
}

// NewDeviceChecker failureLimit 为连续失败多少次视为该设备失联
func NewDeviceChecker(source func() []DeviceStatus, failureLimit int) *DeviceChecker {
	if failureLimit <= 0 {
		failureLimit = 3
	}
	return &DeviceChecker{source: source, failureLimit: failureLimit}
}

// Name 返回检查器名称
func (c *DeviceChecker) Name() string {
	return "devices"
}

// Check 全部设备失联为不健康，部分失联为降级
func (c *DeviceChecker) Check(_ context.Context) CheckResult {
	statuses := c.source()
	if len(statuses) == 0 {
		return CheckResult{Status: StatusHealthy, Message: "no devices configured"}
	}

	lost := 0
	details := make(map[string]interface{}, len(statuses))
	for _, st := range statuses {
		if st.ConsecutiveFailures >= c.failureLimit || st.Breaker == "open" {
			lost++
		}
		details[st.Name] = st
	}

	status := StatusHealthy
	message := "ok"
	switch {
	case lost == len(statuses):
		status = StatusUnhealthy
		message = "all devices unreachable"
	case lost > 0:
		status = StatusDegraded
		message = "some devices unreachable"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
	}
}
