package app

import (
	"context"
	"time"

	"github.com/taoyao-code/htram-gateway/internal/device"
	"github.com/taoyao-code/htram-gateway/internal/metrics"
	"github.com/taoyao-code/htram-gateway/internal/publisher"
	"github.com/taoyao-code/htram-gateway/internal/storage/gormrepo"
	redisstorage "github.com/taoyao-code/htram-gateway/internal/storage/redis"
)

// CycleResult 一次轮询的结果，随快照一起分发
type CycleResult struct {
	Result  string // ok / timeout / transport / unexpected
	Err     error
	Elapsed time.Duration
	At      time.Time
}

// OK 轮询是否成功
func (r CycleResult) OK() bool { return r.Err == nil }

// Sink 快照分发目标
type Sink interface {
	Name() string
	Deliver(ctx context.Context, name string, rd device.Reading, res CycleResult) error
}

// cacheSink 最新快照写入 Redis
type cacheSink struct {
	cache *redisstorage.SnapshotCache
}

// NewCacheSink Redis 快照缓存
func NewCacheSink(cache *redisstorage.SnapshotCache) Sink { return cacheSink{cache: cache} }

func (s cacheSink) Name() string { return "redis" }

func (s cacheSink) Deliver(ctx context.Context, name string, rd device.Reading, res CycleResult) error {
	st := redisstorage.PollStatus{Result: res.Result, At: res.At}
	if res.Err != nil {
		st.Error = res.Err.Error()
	}
	if err := s.cache.SetPollStatus(ctx, name, st); err != nil {
		return err
	}
	if rd.IsEmpty() {
		return nil
	}
	return s.cache.Put(ctx, name, rd)
}

// historySink 读数与轮询记录写入 PostgreSQL
type historySink struct {
	repo *gormrepo.Repository
}

// NewHistorySink PostgreSQL 历史
func NewHistorySink(repo *gormrepo.Repository) Sink { return historySink{repo: repo} }

func (s historySink) Name() string { return "postgres" }

func (s historySink) Deliver(ctx context.Context, name string, rd device.Reading, res CycleResult) error {
	// 失败周期只记录事件，不重复写入旧快照
	if !res.OK() {
		return s.repo.RecordPoll(ctx, name, res.Result, res.Err, res.Elapsed, res.At)
	}
	return s.repo.SaveCycle(ctx, name, rd, res.Result, nil, res.Elapsed, res.At)
}

// mqttSink 快照与在线状态发布到 MQTT
type mqttSink struct {
	pub *publisher.Publisher
}

// NewMQTTSink MQTT 发布
func NewMQTTSink(pub *publisher.Publisher) Sink { return mqttSink{pub: pub} }

func (s mqttSink) Name() string { return "mqtt" }

func (s mqttSink) Deliver(ctx context.Context, name string, rd device.Reading, res CycleResult) error {
	if err := s.pub.PublishAvailability(ctx, name, res.OK()); err != nil {
		return err
	}
	if !res.OK() || rd.IsEmpty() {
		return nil
	}
	return s.pub.PublishReading(ctx, name, rd)
}

// gaugeSink 刷新 Prometheus 读数 gauge
type gaugeSink struct {
	m *metrics.AppMetrics
}

// NewGaugeSink Prometheus gauge
func NewGaugeSink(m *metrics.AppMetrics) Sink { return gaugeSink{m: m} }

func (s gaugeSink) Name() string { return "gauge" }

func (s gaugeSink) Deliver(_ context.Context, name string, rd device.Reading, _ CycleResult) error {
	s.m.SetReading(name, rd.Fields())
	return nil
}
