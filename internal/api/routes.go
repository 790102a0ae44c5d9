package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/htram-gateway/internal/api/middleware"
)

// RegisterDeviceRoutes 注册设备读取与控制路由
func RegisterDeviceRoutes(r gin.IRouter, handler *DeviceHandler, authCfg middleware.AuthConfig, logger *zap.Logger) {
	if r == nil || handler == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api := r.Group("/api")
	api.Use(middleware.CORS())
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled")
	}

	api.GET("/devices", handler.ListDevices)

	dev := api.Group("/devices/:name")
	dev.GET("/reading", handler.GetReading)
	dev.GET("/history", handler.History)
	dev.POST("/poll", handler.Poll)
	dev.PUT("/mute", handler.SetMute)
	dev.PUT("/temp-unit", handler.SetTempUnit)
	dev.PUT("/thresholds", handler.SetThresholds)
	dev.PUT("/screen-off", handler.SetScreenOff)
	dev.POST("/sync-time", handler.SyncTime)
	dev.POST("/provision/wifi", handler.ProvisionWiFi)
	dev.POST("/provision/mqtt", handler.ProvisionMQTT)

	logger.Info("device routes registered", zap.Int("endpoints", 11))
}
