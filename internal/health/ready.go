package health

import "sync/atomic"

// Readiness 启动阶段就绪标记（HTTP、轮询）
type Readiness struct {
	httpReady   atomic.Bool
	pollerReady atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetHTTPReady(v bool)   { r.httpReady.Store(v) }
func (r *Readiness) SetPollerReady(v bool) { r.pollerReady.Store(v) }

// Ready 总体就绪：各子系统均为 true
func (r *Readiness) Ready() bool {
	return r.httpReady.Load() && r.pollerReady.Load()
}
