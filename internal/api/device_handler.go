package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/htram-gateway/internal/device"
	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
)

type deviceView struct {
	Name    string         `json:"name"`
	Reading device.Reading `json:"reading"`
	Status  interface{}    `json:"status,omitempty"`
}

type muteRequest struct {
	Mute *bool `json:"mute" binding:"required"`
}

type tempUnitRequest struct {
	Unit string `json:"unit" binding:"required"`
}

type thresholdsRequest struct {
	Low       *uint16 `json:"low"`
	High      *uint16 `json:"high"`
	ScreenOff *uint16 `json:"screen_off"`
}

type screenOffRequest struct {
	Minutes *uint16 `json:"minutes" binding:"required"`
}

type wifiRequest struct {
	SSID     string `json:"ssid" binding:"required"`
	Password string `json:"password"`
}

type mqttRequest struct {
	Server string `json:"server" binding:"required"`
	AESKey string `json:"aes_key" binding:"required"`
	AESIV  string `json:"aes_iv" binding:"required"`
}

func (h *DeviceHandler) lookup(c *gin.Context) (Controller, bool) {
	name := c.Param("name")
	ctl, ok := h.devices.Lookup(name)
	if !ok {
		abortError(c, fmt.Errorf("%w: %s", device.ErrUnknownDevice, name))
		return nil, false
	}
	return ctl, true
}

func (h *DeviceHandler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// ListDevices 设备列表及最新快照
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	names := h.devices.Names()
	list := make([]deviceView, 0, len(names))
	for _, name := range names {
		ctl, ok := h.devices.Lookup(name)
		if !ok {
			continue
		}
		v := deviceView{Name: name, Reading: ctl.Snapshot()}
		if st, ok := h.devices.Status(name); ok {
			v.Status = st
		}
		list = append(list, v)
	}
	c.JSON(http.StatusOK, gin.H{"devices": list})
}

// GetReading 最新快照（不触发轮询）
func (h *DeviceHandler) GetReading(c *gin.Context) {
	ctl, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, deviceView{Name: ctl.Name(), Reading: ctl.Snapshot()})
}

// Poll 立即执行一次轮询；失败时仍返回当前快照
func (h *DeviceHandler) Poll(c *gin.Context) {
	ctl, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	rd, err := ctl.Poll(ctx)
	if err != nil {
		h.logger.Warn("api poll failed", zap.String("device", ctl.Name()), zap.Error(err))
		c.JSON(statusOf(err), gin.H{"name": ctl.Name(), "reading": rd, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, deviceView{Name: ctl.Name(), Reading: rd})
}

// command 执行写命令并返回更新后的快照
func (h *DeviceHandler) command(c *gin.Context, ctl Controller, op string, fn func(ctx context.Context) error) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := fn(ctx); err != nil {
		h.logger.Warn("api command failed", zap.String("device", ctl.Name()), zap.String("op", op), zap.Error(err))
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, deviceView{Name: ctl.Name(), Reading: ctl.Snapshot()})
}

// SetMute PUT {"mute": true}
func (h *DeviceHandler) SetMute(c *gin.Context) {
	ctl, ok := h.lookup(c)
	if !ok {
		return
	}
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	h.command(c, ctl, "set_mute", func(ctx context.Context) error { return ctl.SetMute(ctx, *req.Mute) })
}

// SetTempUnit PUT {"unit": "C"}
func (h *DeviceHandler) SetTempUnit(c *gin.Context) {
	ctl, ok := h.lookup(c)
	if !ok {
		return
	}
	var req tempUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	unit, err := htram.ParseTempUnit(req.Unit)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	h.command(c, ctl, "set_temp_unit", func(ctx context.Context) error { return ctl.SetTempUnit(ctx, unit) })
}

// SetThresholds PUT {"low":800,"high":1000,"screen_off":0}；缺省字段保留当前值
func (h *DeviceHandler) SetThresholds(c *gin.Context) {
	ctl, ok := h.lookup(c)
	if !ok {
		return
	}
	var req thresholdsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Low == nil && req.High == nil && req.ScreenOff == nil {
		badRequest(c, "at least one of low, high, screen_off required")
		return
	}
	if req.Low != nil && req.High != nil && *req.Low >= *req.High {
		badRequest(c, fmt.Sprintf("low (%d) must be less than high (%d)", *req.Low, *req.High))
		return
	}
	h.command(c, ctl, "set_thresholds", func(ctx context.Context) error {
		return ctl.SetAlarmThresholds(ctx, req.Low, req.High, req.ScreenOff)
	})
}

// SetScreenOff PUT {"minutes": 5}
func (h *DeviceHandler) SetScreenOff(c *gin.Context) {
	ctl, ok := h.lookup(c)
	if !ok {
		return
	}
	var req screenOffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	h.command(c, ctl, "set_screen_off", func(ctx context.Context) error { return ctl.SetScreenOff(ctx, *req.Minutes) })
}

// SyncTime POST 同步设备时钟
func (h *DeviceHandler) SyncTime(c *gin.Context) {
	ctl, ok := h.lookup(c)
	if !ok {
		return
	}
	h.command(c, ctl, "sync_time", ctl.SyncTime)
}

// ProvisionWiFi POST {"ssid":"...","password":"..."}
func (h *DeviceHandler) ProvisionWiFi(c *gin.Context) {
	ctl, ok := h.lookup(c)
	if !ok {
		return
	}
	var req wifiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	h.command(c, ctl, "provision_wifi", func(ctx context.Context) error {
		return ctl.ProvisionWiFi(ctx, req.SSID, req.Password)
	})
}

// ProvisionMQTT POST {"server":"...","aes_key":"<base64>","aes_iv":"..."}
func (h *DeviceHandler) ProvisionMQTT(c *gin.Context) {
	ctl, ok := h.lookup(c)
	if !ok {
		return
	}
	var req mqttRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	h.command(c, ctl, "provision_mqtt", func(ctx context.Context) error {
		return ctl.ProvisionMQTT(ctx, req.Server, req.AESKey, req.AESIV)
	})
}

// History GET ?since=RFC3339|24h&limit=100
func (h *DeviceHandler) History(c *gin.Context) {
	ctl, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.history == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "history storage disabled"})
		return
	}
	since, err := parseSince(c.Query("since"), time.Now())
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	rows, err := h.history.History(c.Request.Context(), ctl.Name(), since, limit)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": ctl.Name(), "readings": rows})
}

// parseSince 支持 RFC3339 时间或相对时长
func parseSince(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("invalid since %q", v)
	}
	return now.Add(-d), nil
}
