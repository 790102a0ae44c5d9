package device

import (
	"sync"
	"time"

	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
)

// 阈值未知时的默认值
const (
	DefaultAlarmLow  uint16 = 800
	DefaultAlarmHigh uint16 = 1000
	DefaultScreenOff uint16 = 0
)

// Reading 设备状态快照；nil 表示从未观测到
type Reading struct {
	CO2              *uint16         `json:"co2"`
	Temperature      *int16          `json:"temperature"`
	Humidity         *uint8          `json:"humidity"`
	Battery          *uint8          `json:"battery"`
	Charging         *bool           `json:"charging"`
	Mute             *bool           `json:"mute"`
	AlarmLow         *uint16         `json:"alarm_low"`
	AlarmHigh        *uint16         `json:"alarm_high"`
	ScreenOffMinutes *uint16         `json:"screen_off_minutes"`
	TempUnit         *htram.TempUnit `json:"temp_unit"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Clone 深拷贝
func (r Reading) Clone() Reading {
	return Reading{
		CO2:              clonePtr(r.CO2),
		Temperature:      clonePtr(r.Temperature),
		Humidity:         clonePtr(r.Humidity),
		Battery:          clonePtr(r.Battery),
		Charging:         clonePtr(r.Charging),
		Mute:             clonePtr(r.Mute),
		AlarmLow:         clonePtr(r.AlarmLow),
		AlarmHigh:        clonePtr(r.AlarmHigh),
		ScreenOffMinutes: clonePtr(r.ScreenOffMinutes),
		TempUnit:         clonePtr(r.TempUnit),
		UpdatedAt:        r.UpdatedAt,
	}
}

// IsEmpty 尚未观测到任何字段
func (r Reading) IsEmpty() bool {
	return r.CO2 == nil && r.Temperature == nil && r.Humidity == nil && r.Battery == nil &&
		r.Charging == nil && r.Mute == nil && r.AlarmLow == nil && r.AlarmHigh == nil &&
		r.ScreenOffMinutes == nil && r.TempUnit == nil
}

// Thresholds 当前阈值，未知字段取默认值
func (r Reading) Thresholds() (low, high, screenOff uint16) {
	return valueOr(r.AlarmLow, DefaultAlarmLow),
		valueOr(r.AlarmHigh, DefaultAlarmHigh),
		valueOr(r.ScreenOffMinutes, DefaultScreenOff)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func ptr[T any](v T) *T { return &v }

// Store 设备状态存储：按字段合并，后写覆盖，从不回滚
// 只有引擎写入，读取方拿到的是副本
type Store struct {
	mu  sync.RWMutex
	r   Reading
	now func() time.Time
}

// NewStore 创建空状态
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Snapshot 当前状态副本
func (s *Store) Snapshot() Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.r.Clone()
}

func (s *Store) update(fn func(r *Reading)) {
	s.mu.Lock()
	fn(&s.r)
	s.r.UpdatedAt = s.now()
	s.mu.Unlock()
}

// ApplyRealtime 合并实时数据
func (s *Store) ApplyRealtime(rt htram.Realtime) {
	s.update(func(r *Reading) {
		r.CO2 = ptr(rt.CO2)
		r.Temperature = ptr(rt.Temperature)
		r.Humidity = ptr(rt.Humidity)
		r.Battery = ptr(rt.Battery)
		r.Charging = ptr(rt.Charging)
	})
}

// ApplySound 合并蜂鸣器状态
func (s *Store) ApplySound(snd htram.Sound) {
	s.SetMute(snd.Mute)
}

// ApplySettings 合并阈值与息屏时间
func (s *Store) ApplySettings(st htram.Settings) {
	s.SetThresholds(st.AlarmLow, st.AlarmHigh, st.ScreenOffMinutes)
}

// SetMute 乐观更新静音
func (s *Store) SetMute(mute bool) {
	s.update(func(r *Reading) { r.Mute = ptr(mute) })
}

// SetTempUnit 乐观更新温度单位
func (s *Store) SetTempUnit(u htram.TempUnit) {
	s.update(func(r *Reading) { r.TempUnit = ptr(u) })
}

// SetThresholds 乐观更新阈值
func (s *Store) SetThresholds(low, high, screenOff uint16) {
	s.update(func(r *Reading) {
		r.AlarmLow = ptr(low)
		r.AlarmHigh = ptr(high)
		r.ScreenOffMinutes = ptr(screenOff)
	})
}

// SetScreenOff 乐观更新息屏时间
func (s *Store) SetScreenOff(minutes uint16) {
	s.update(func(r *Reading) { r.ScreenOffMinutes = ptr(minutes) })
}

// Fields 已观测字段的数值形式（布尔按 0/1），用于指标与历史
func (r Reading) Fields() map[string]float64 {
	out := make(map[string]float64, 10)
	if r.CO2 != nil {
		out["co2"] = float64(*r.CO2)
	}
	if r.Temperature != nil {
		out["temperature"] = float64(*r.Temperature)
	}
	if r.Humidity != nil {
		out["humidity"] = float64(*r.Humidity)
	}
	if r.Battery != nil {
		out["battery"] = float64(*r.Battery)
	}
	if r.Charging != nil {
		out["charging"] = boolFloat(*r.Charging)
	}
	if r.Mute != nil {
		out["mute"] = boolFloat(*r.Mute)
	}
	if r.AlarmLow != nil {
		out["alarm_low"] = float64(*r.AlarmLow)
	}
	if r.AlarmHigh != nil {
		out["alarm_high"] = float64(*r.AlarmHigh)
	}
	if r.ScreenOffMinutes != nil {
		out["screen_off_minutes"] = float64(*r.ScreenOffMinutes)
	}
	return out
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
