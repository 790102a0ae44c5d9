package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/htram-gateway/internal/device"
)

// 键布局：
//
//	{prefix}reading:{device}  最新快照 JSON，带 TTL
//	{prefix}poll:{device}     最近一次轮询结果 hash
//	{prefix}devices           已上报设备集合
const (
	keyReading = "reading:"
	keyPoll    = "poll:"
	keyDevices = "devices"
)

// PollStatus 最近一次轮询结果
type PollStatus struct {
	Result string    `json:"result"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// SnapshotCache 最新读数缓存
type SnapshotCache struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewSnapshotCache 创建缓存；ttl<=0 表示不过期
func NewSnapshotCache(rdb redis.Cmdable, prefix string, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *SnapshotCache) key(parts ...string) string {
	return c.prefix + strings.Join(parts, "")
}

// Put 写入快照并登记设备
func (c *SnapshotCache) Put(ctx context.Context, name string, rd device.Reading) error {
	data, err := json.Marshal(rd)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.key(keyReading, name), data, c.ttl)
	pipe.SAdd(ctx, c.key(keyDevices), name)
	_, err = pipe.Exec(ctx)
	return err
}

// Get 读取快照；不存在时 ok=false
func (c *SnapshotCache) Get(ctx context.Context, name string) (rd device.Reading, ok bool, err error) {
	data, err := c.rdb.Get(ctx, c.key(keyReading, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return device.Reading{}, false, nil
	}
	if err != nil {
		return device.Reading{}, false, err
	}
	if err := json.Unmarshal(data, &rd); err != nil {
		return device.Reading{}, false, fmt.Errorf("unmarshal reading: %w", err)
	}
	return rd, true, nil
}

// SetPollStatus 记录最近一次轮询结果
func (c *SnapshotCache) SetPollStatus(ctx context.Context, name string, st PollStatus) error {
	k := c.key(keyPoll, name)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, k, map[string]interface{}{
		"result": st.Result,
		"error":  st.Error,
		"at":     st.At.UTC().Format(time.RFC3339Nano),
	})
	if c.ttl > 0 {
		pipe.Expire(ctx, k, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PollStatus 读取最近一次轮询结果
func (c *SnapshotCache) PollStatus(ctx context.Context, name string) (PollStatus, bool, error) {
	m, err := c.rdb.HGetAll(ctx, c.key(keyPoll, name)).Result()
	if err != nil {
		return PollStatus{}, false, err
	}
	if len(m) == 0 {
		return PollStatus{}, false, nil
	}
	st := PollStatus{Result: m["result"], Error: m["error"]}
	if ts, err := time.Parse(time.RFC3339Nano, m["at"]); err == nil {
		st.At = ts
	}
	return st, true, nil
}

// Devices 已上报设备名，按字典序
func (c *SnapshotCache) Devices(ctx context.Context) ([]string, error) {
	names, err := c.rdb.SMembers(ctx, c.key(keyDevices)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
