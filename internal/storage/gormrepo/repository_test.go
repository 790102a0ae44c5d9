package gormrepo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/htram-gateway/internal/config"
	"github.com/taoyao-code/htram-gateway/internal/device"
	"github.com/taoyao-code/htram-gateway/internal/migrate"
	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
	"github.com/taoyao-code/htram-gateway/internal/storage/pg"
)

func u16(v uint16) *uint16 { return &v }

func TestFromReading(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	temp := int16(-5)
	hum := uint8(41)
	bat := uint8(75)
	charging := true
	unit := htram.TempUnitFahrenheit

	tests := []struct {
		name  string
		in    device.Reading
		check func(t *testing.T, got device.Reading)
	}{
		{
			name: "完整快照",
			in: device.Reading{
				CO2: u16(1234), Temperature: &temp, Humidity: &hum, Battery: &bat,
				Charging: &charging, AlarmLow: u16(800), AlarmHigh: u16(1200),
				ScreenOffMinutes: u16(5), TempUnit: &unit,
			},
		},
		{
			name: "部分字段为空",
			in:   device.Reading{CO2: u16(600)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := FromReading("office", tt.in, at)
			assert.Equal(t, "office", row.Device)
			assert.Equal(t, at, row.RecordedAt)
			require.NotNil(t, row.CO2)
			assert.EqualValues(t, *tt.in.CO2, *row.CO2)

			if tt.in.Temperature == nil {
				assert.Nil(t, row.Temperature)
				assert.Nil(t, row.Humidity)
				assert.Nil(t, row.TempUnit)
				assert.Nil(t, row.AlarmHigh)
				return
			}
			assert.EqualValues(t, -5, *row.Temperature)
			assert.EqualValues(t, 41, *row.Humidity)
			assert.EqualValues(t, 75, *row.Battery)
			assert.True(t, *row.Charging)
			assert.EqualValues(t, 800, *row.AlarmLow)
			assert.EqualValues(t, 1200, *row.AlarmHigh)
			assert.EqualValues(t, 5, *row.ScreenOffMinutes)
			assert.Equal(t, "F", *row.TempUnit)
		})
	}
}

// 需要 PostgreSQL：设置 HTRAM_TEST_DSN 后运行
func TestRepository_Postgres(t *testing.T) {
	dsn := os.Getenv("HTRAM_TEST_DSN")
	if dsn == "" {
		t.Skip("HTRAM_TEST_DSN 未设置，跳过数据库测试")
	}
	ctx := context.Background()
	pool, err := pg.NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxLifetime: time.Minute}, nil)
	require.NoError(t, err)
	defer pool.Close()
	_, err = migrate.Runner{}.Up(ctx, pool)
	require.NoError(t, err)

	db, err := pg.OpenGorm(pool)
	require.NoError(t, err)
	repo := New(db)

	name := "test-" + time.Now().Format("150405.000000")
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("写入与查询历史", func(t *testing.T) {
		require.NoError(t, repo.SaveCycle(ctx, name, device.Reading{CO2: u16(700)}, "ok", nil, 120*time.Millisecond, now.Add(-time.Minute)))
		require.NoError(t, repo.SaveCycle(ctx, name, device.Reading{CO2: u16(710)}, "ok", nil, 90*time.Millisecond, now))

		rows, err := repo.History(ctx, name, time.Time{}, 10)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.EqualValues(t, 710, *rows[0].CO2)

		ev, err := repo.LatestPoll(ctx, name)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, "ok", ev.Result)
	})

	t.Run("空快照不落库", func(t *testing.T) {
		require.NoError(t, repo.InsertReading(ctx, name, device.Reading{}, now))
		rows, err := repo.History(ctx, name, now, 10)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("按保留期清理", func(t *testing.T) {
		_, err := repo.Prune(ctx, now.Add(-30*time.Second))
		require.NoError(t, err)
		rows, err := repo.History(ctx, name, time.Time{}, 10)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})
}
