package app

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/htram-gateway/internal/health"
	"github.com/taoyao-code/htram-gateway/internal/publisher"
)

// NewHealthAggregator 创建健康检查聚合器，设备检查器始终存在
func NewHealthAggregator(devices *Devices) *health.Aggregator {
	return health.NewAggregator(
		health.NewDeviceChecker(devices.Statuses, 3),
	)
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator, ready *health.Readiness) {
	health.RegisterHTTPRoutes(r, aggregator, ready)
}

// AddDatabaseChecker 添加数据库检查器
func AddDatabaseChecker(aggregator *health.Aggregator, pool *pgxpool.Pool) {
	if pool != nil {
		aggregator.AddChecker(health.NewDatabaseChecker(pool))
	}
}

// AddMQTTChecker 添加 MQTT 检查器；断线只降级
func AddMQTTChecker(aggregator *health.Aggregator, pub *publisher.Publisher) {
	if pub != nil {
		aggregator.AddChecker(health.NewFuncChecker("mqtt", health.StatusDegraded, pub.HealthCheck))
	}
}
