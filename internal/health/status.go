package health

import "context"

// Status 健康状态；降级表示轮询仍在进行但有外部依赖不可用
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worse 返回两者中更差的状态
func Worse(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// CheckResult 单项检查结果，耗时由聚合器填写
type CheckResult struct {
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	LatencyMs int64                  `json:"latency_ms"`
}

// Checker 健康检查器
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

func ok(details map[string]interface{}) CheckResult {
	return CheckResult{Status: StatusHealthy, Message: "ok", Details: details}
}
