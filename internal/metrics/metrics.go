package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 网关业务指标
type AppMetrics struct {
	ExchangeTotal   *prometheus.CounterVec   // labels: kind, result
	ExchangeSeconds *prometheus.HistogramVec // labels: kind
	SessionConnect  *prometheus.CounterVec   // labels: result
	SessionRecycle  *prometheus.CounterVec   // labels: reason
	BreakerState    *prometheus.CounterVec   // labels: state
	PollCycleTotal  *prometheus.CounterVec   // labels: device, result
	CommandTotal    *prometheus.CounterVec   // labels: device, op, result
	Reading         *prometheus.GaugeVec     // labels: device, field
	SinkErrors      *prometheus.CounterVec   // labels: sink
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		ExchangeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "htram_exchange_total",
			Help: "Request/response exchanges by reply kind and result.",
		}, []string{"kind", "result"}),
		ExchangeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "htram_exchange_seconds",
			Help:    "Exchange latency from write to reply.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"kind"}),
		SessionConnect: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "htram_session_connect_total",
			Help: "BLE connect attempts by result.",
		}, []string{"result"}),
		SessionRecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "htram_session_recycle_total",
			Help: "Forced session recycles by reason.",
		}, []string{"reason"}),
		BreakerState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "htram_session_breaker_transitions_total",
			Help: "Connect circuit breaker transitions by target state.",
		}, []string{"state"}),
		PollCycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "htram_poll_cycle_total",
			Help: "Poll cycles by device and result.",
		}, []string{"device", "result"}),
		CommandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "htram_command_total",
			Help: "Write commands by device, operation and result.",
		}, []string{"device", "op", "result"}),
		Reading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "htram_reading",
			Help: "Latest sensor reading by device and field.",
		}, []string{"device", "field"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "htram_sink_errors_total",
			Help: "Snapshot fan-out failures by sink.",
		}, []string{"sink"}),
	}
	reg.MustRegister(m.ExchangeTotal, m.ExchangeSeconds, m.SessionConnect, m.SessionRecycle,
		m.BreakerState, m.PollCycleTotal, m.CommandTotal, m.Reading, m.SinkErrors)
	return m
}

// ObserveExchange 交换结果；只有真正等待应答的交换计入耗时
func (m *AppMetrics) ObserveExchange(kind, result string, elapsed time.Duration) {
	m.ExchangeTotal.WithLabelValues(kind, result).Inc()
	if result == "ok" || result == "timeout" {
		m.ExchangeSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

// RecordSession 会话事件：connect/recycle/breaker
func (m *AppMetrics) RecordSession(operation, status string) {
	switch operation {
	case "connect":
		m.SessionConnect.WithLabelValues(status).Inc()
	case "recycle":
		m.SessionRecycle.WithLabelValues(status).Inc()
	case "breaker":
		m.BreakerState.WithLabelValues(status).Inc()
	}
}

// DeviceRecorder 返回绑定设备名的引擎事件记录函数
func (m *AppMetrics) DeviceRecorder(device string) func(operation, status string) {
	return func(operation, status string) {
		if operation == "poll" {
			m.PollCycleTotal.WithLabelValues(device, status).Inc()
			return
		}
		m.CommandTotal.WithLabelValues(device, operation, status).Inc()
	}
}

// SetReading 刷新读数 gauge
func (m *AppMetrics) SetReading(device string, fields map[string]float64) {
	for field, v := range fields {
		m.Reading.WithLabelValues(device, field).Set(v)
	}
}
