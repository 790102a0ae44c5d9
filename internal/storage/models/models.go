package models

import (
	"time"
)

// 注意：
// - 与 internal/migrate/sql 保持对齐，表结构由迁移脚本创建
// - 不使用 gorm.Model，显式声明每个字段

// Reading 映射 htram_readings 表，一次轮询一行
type Reading struct {
	ID     int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Device string `gorm:"column:device;type:text;not null;index" json:"device"`
	// 测量值，未观测为 NULL
	CO2         *int32 `gorm:"column:co2" json:"co2"`
	Temperature *int16 `gorm:"column:temperature" json:"temperature"`
	Humidity    *int16 `gorm:"column:humidity" json:"humidity"`
	Battery     *int16 `gorm:"column:battery" json:"battery"`
	Charging    *bool  `gorm:"column:charging" json:"charging"`
	// 设置
	Mute             *bool     `gorm:"column:mute" json:"mute"`
	AlarmLow         *int32    `gorm:"column:alarm_low" json:"alarm_low"`
	AlarmHigh        *int32    `gorm:"column:alarm_high" json:"alarm_high"`
	ScreenOffMinutes *int32    `gorm:"column:screen_off_minutes" json:"screen_off_minutes"`
	TempUnit         *string   `gorm:"column:temp_unit;type:char(1)" json:"temp_unit"`
	RecordedAt       time.Time `gorm:"column:recorded_at;not null" json:"recorded_at"`
}

func (Reading) TableName() string { return "htram_readings" }

// PollEvent 映射 htram_poll_events 表
type PollEvent struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Device     string    `gorm:"column:device;type:text;not null" json:"device"`
	Result     string    `gorm:"column:result;type:text;not null" json:"result"`
	Error      *string   `gorm:"column:error;type:text" json:"error"`
	DurationMs int32     `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null" json:"occurred_at"`
}

func (PollEvent) TableName() string { return "htram_poll_events" }
