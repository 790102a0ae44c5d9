package device

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
)

func TestStore_FieldMerge(t *testing.T) {
	s := NewStore()
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	assert.True(t, s.Snapshot().IsEmpty())

	s.ApplyRealtime(htram.Realtime{CO2: 600, Temperature: -3, Humidity: 40, Battery: 50, Charging: false})
	s.ApplySound(htram.Sound{Mute: true})
	r := s.Snapshot()
	assert.Equal(t, uint16(600), *r.CO2)
	assert.Equal(t, int16(-3), *r.Temperature)
	assert.True(t, *r.Mute)
	assert.Nil(t, r.AlarmLow)
	assert.Equal(t, now, r.UpdatedAt)

	// 设置项合并不影响实时字段
	s.ApplySettings(htram.Settings{AlarmLow: 700, AlarmHigh: 900, ScreenOffMinutes: 2})
	s.SetScreenOff(4)
	r = s.Snapshot()
	assert.Equal(t, uint16(600), *r.CO2)
	assert.Equal(t, uint16(700), *r.AlarmLow)
	assert.Equal(t, uint16(4), *r.ScreenOffMinutes)
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore()
	s.SetMute(false)
	r := s.Snapshot()
	*r.Mute = true
	assert.False(t, *s.Snapshot().Mute)
}

func TestReading_Thresholds(t *testing.T) {
	low, high, screen := Reading{}.Thresholds()
	assert.Equal(t, DefaultAlarmLow, low)
	assert.Equal(t, DefaultAlarmHigh, high)
	assert.Equal(t, DefaultScreenOff, screen)

	low, high, screen = Reading{AlarmLow: ptr[uint16](500), ScreenOffMinutes: ptr[uint16](3)}.Thresholds()
	assert.Equal(t, uint16(500), low)
	assert.Equal(t, DefaultAlarmHigh, high)
	assert.Equal(t, uint16(3), screen)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.ApplyRealtime(htram.Realtime{CO2: uint16(400 + i)})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	wg.Wait()
	r := s.Snapshot()
	require.NotNil(t, r.CO2)
	assert.GreaterOrEqual(t, *r.CO2, uint16(400))
}

func TestReading_Fields(t *testing.T) {
	r := Reading{CO2: ptr[uint16](650), Charging: ptr(true), Temperature: ptr[int16](-2)}
	assert.Equal(t, map[string]float64{"co2": 650, "charging": 1, "temperature": -2}, r.Fields())
	assert.Empty(t, Reading{}.Fields())
}
