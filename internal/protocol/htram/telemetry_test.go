package htram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, raw []byte) Frame {
	t.Helper()
	f, err := Decode(raw)
	require.NoError(t, err)
	return f
}

func TestDecodeRealtime(t *testing.T) {
	f := mustDecode(t, realtimeReply)
	rt, err := DecodeRealtime(f)
	require.NoError(t, err)
	assert.Equal(t, Realtime{CO2: 200, Temperature: 20, Humidity: 50, Battery: 75, BatteryBars: 3, Charging: true}, rt)
}

func TestDecodeRealtime_NegativeTemperatureFullBattery(t *testing.T) {
	raw := []byte{0x7B, 0x41, 0x00, 0x0C, 0x41, 0x44, 0x05, 0x01, 0xF4, 0x82, 0x2D, 0x04, 0x00, 0x70, 0x17, 0x7D}
	rt, err := DecodeRealtime(mustDecode(t, raw))
	require.NoError(t, err)
	assert.Equal(t, uint16(500), rt.CO2)
	assert.Equal(t, int16(-126), rt.Temperature)
	assert.Equal(t, uint8(45), rt.Humidity)
	assert.Equal(t, uint8(100), rt.Battery)
	assert.False(t, rt.Charging)
}

func TestDecodeTemperature(t *testing.T) {
	tests := []struct {
		raw  byte
		want int16
	}{
		{20, 20},
		{0, 0},
		{128, 128}, // 仅 >128 视为负数
		{129, -127},
		{130, -126},
		{255, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DecodeTemperature(tt.raw), "raw=%d", tt.raw)
	}
}

func TestBatteryPercent(t *testing.T) {
	for bars, want := range map[byte]uint8{0: 0, 1: 25, 2: 50, 3: 75, 4: 100, 5: 100, 200: 100} {
		assert.Equal(t, want, BatteryPercent(bars), "bars=%d", bars)
	}
}

func TestDecodeRealtime_Truncated(t *testing.T) {
	// 长度合法的短帧：只有两字节载荷
	f := Encode(RespRealtime, []byte{0x05, 0x00})
	_, err := DecodeRealtime(f)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeRealtime_WrongCommand(t *testing.T) {
	f := mustDecode(t, []byte{0x7B, 0x41, 0x00, 0x09, 0x27, 0x23, 0x01, 0x00, 0x00, 0x00, 0x42, 0x60, 0x7D})
	_, err := DecodeRealtime(f)
	assert.ErrorIs(t, err, ErrUnexpectedCommand)
}

func TestDecodeSound(t *testing.T) {
	muted := mustDecode(t, []byte{0x7B, 0x41, 0x00, 0x09, 0x27, 0x23, 0x01, 0x00, 0x00, 0x00, 0x42, 0x60, 0x7D})
	s, err := DecodeSound(muted)
	require.NoError(t, err)
	assert.True(t, s.Mute)

	on := mustDecode(t, []byte{0x7B, 0x41, 0x00, 0x09, 0x27, 0x23, 0x01, 0x00, 0x00, 0x01, 0xC2, 0x65, 0x7D})
	s, err = DecodeSound(on)
	require.NoError(t, err)
	assert.False(t, s.Mute)

	_, err = DecodeSound(Encode(RespSound, nil))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeSettings(t *testing.T) {
	f := mustDecode(t, []byte{0x7B, 0x41, 0x00, 0x0C, 0x41, 0x43, 0x04, 0x03, 0x20, 0x03, 0xE8, 0x00, 0x05, 0x56, 0x10, 0x7D})
	s, err := DecodeSettings(f)
	require.NoError(t, err)
	assert.Equal(t, Settings{AlarmLow: 800, AlarmHigh: 1000, ScreenOffMinutes: 5}, s)

	_, err = DecodeSettings(Encode(RespSettings, []byte{0x04, 0x03}))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestReplyKindOf(t *testing.T) {
	tests := []struct {
		id   CommandID
		want ReplyKind
		ok   bool
	}{
		{0x4144, ReplyRealtime, true},
		{0x4143, ReplySettings, true},
		{0x2723, ReplySound, true},
		{0x5555, ReplyNone, false},
		{CmdGetRealtime, ReplyNone, false},
	}
	for _, tt := range tests {
		got, ok := ReplyKindOf(tt.id)
		assert.Equal(t, tt.want, got, "id=%s", tt.id)
		assert.Equal(t, tt.ok, ok, "id=%s", tt.id)
	}
}
