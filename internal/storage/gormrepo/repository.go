package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/taoyao-code/htram-gateway/internal/device"
	"github.com/taoyao-code/htram-gateway/internal/storage/models"
)

// DefaultHistoryLimit History 未指定条数时的上限
const DefaultHistoryLimit = 500

// Repository 基于 GORM 的读数历史仓储。
// 使用 isTx 标记区分事务上下文，避免嵌套事务重复 Begin/Commit。
type Repository struct {
	db   *gorm.DB
	isTx bool
}

// New 返回一个使用给定 *gorm.DB 的仓储实例。
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx 复用现有事务或开启新事务执行 fn。
func (r *Repository) WithTx(ctx context.Context, fn func(*Repository) error) error {
	if r.isTx {
		return fn(r)
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	child := &Repository{db: tx, isTx: true}
	if err := fn(child); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// InsertReading 写入一条快照；空快照不落库
func (r *Repository) InsertReading(ctx context.Context, name string, rd device.Reading, at time.Time) error {
	if rd.IsEmpty() {
		return nil
	}
	row := FromReading(name, rd, at)
	return r.db.WithContext(ctx).Create(&row).Error
}

// RecordPoll 记录一次轮询结果
func (r *Repository) RecordPoll(ctx context.Context, name, result string, pollErr error, elapsed time.Duration, at time.Time) error {
	ev := models.PollEvent{
		Device:     name,
		Result:     result,
		DurationMs: int32(elapsed / time.Millisecond),
		OccurredAt: at,
	}
	if pollErr != nil {
		msg := pollErr.Error()
		ev.Error = &msg
	}
	return r.db.WithContext(ctx).Create(&ev).Error
}

// SaveCycle 在同一事务内写入快照与轮询记录
func (r *Repository) SaveCycle(ctx context.Context, name string, rd device.Reading, result string, pollErr error, elapsed time.Duration, at time.Time) error {
	return r.WithTx(ctx, func(tx *Repository) error {
		if err := tx.InsertReading(ctx, name, rd, at); err != nil {
			return err
		}
		return tx.RecordPoll(ctx, name, result, pollErr, elapsed, at)
	})
}

// History 按时间倒序返回 since 之后的读数
func (r *Repository) History(ctx context.Context, name string, since time.Time, limit int) ([]models.Reading, error) {
	if name == "" {
		return nil, errors.New("device name required")
	}
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	q := r.db.WithContext(ctx).Where("device = ?", name)
	if !since.IsZero() {
		q = q.Where("recorded_at >= ?", since)
	}
	var rows []models.Reading
	err := q.Order("recorded_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// LatestPoll 最近一次轮询记录，不存在返回 nil
func (r *Repository) LatestPoll(ctx context.Context, name string) (*models.PollEvent, error) {
	var ev models.PollEvent
	err := r.db.WithContext(ctx).
		Where("device = ?", name).
		Order("occurred_at DESC").
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Prune 删除 before 之前的读数与轮询记录
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	err := r.WithTx(ctx, func(tx *Repository) error {
		res := tx.db.WithContext(ctx).Where("recorded_at < ?", before).Delete(&models.Reading{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		res = tx.db.WithContext(ctx).Where("occurred_at < ?", before).Delete(&models.PollEvent{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	return total, err
}

// FromReading 快照转表行
func FromReading(name string, rd device.Reading, at time.Time) models.Reading {
	row := models.Reading{
		Device:     name,
		Charging:   rd.Charging,
		Mute:       rd.Mute,
		RecordedAt: at,
	}
	if rd.CO2 != nil {
		v := int32(*rd.CO2)
		row.CO2 = &v
	}
	if rd.Temperature != nil {
		v := *rd.Temperature
		row.Temperature = &v
	}
	if rd.Humidity != nil {
		v := int16(*rd.Humidity)
		row.Humidity = &v
	}
	if rd.Battery != nil {
		v := int16(*rd.Battery)
		row.Battery = &v
	}
	if rd.AlarmLow != nil {
		v := int32(*rd.AlarmLow)
		row.AlarmLow = &v
	}
	if rd.AlarmHigh != nil {
		v := int32(*rd.AlarmHigh)
		row.AlarmHigh = &v
	}
	if rd.ScreenOffMinutes != nil {
		v := int32(*rd.ScreenOffMinutes)
		row.ScreenOffMinutes = &v
	}
	if rd.TempUnit != nil {
		v := string(*rd.TempUnit)
		row.TempUnit = &v
	}
	return row
}
