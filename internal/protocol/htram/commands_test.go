package htram

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 固定命令的抓包字节必须与编码器输出一致（GET_SETTINGS 例外，见 GetSettings 注释）
func TestCatalog_FixedLiteralsMatchEncoder(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		payload []byte
	}{
		{"心跳", Heartbeat(), []byte{0x01}},
		{"实时数据", GetRealtime(), []byte{0x02, 0x00}},
		{"蜂鸣器状态", GetSoundStatus(), []byte{0x01, 0x00}},
		{"静音", SetSound(false), []byte{0x01, 0x00, 0x00, 0x00}},
		{"取消静音", SetSound(true), []byte{0x01, 0x00, 0x00, 0x01}},
		{"读取温度单位", GetTempUnit(), []byte{0x02, 0x06}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Encode(tt.cmd.ID(), tt.payload).Bytes(), tt.cmd.Frame.Bytes())
			assert.Equal(t, tt.payload, tt.cmd.Frame.Payload())
		})
	}
}

func TestCatalog_ReplyKinds(t *testing.T) {
	assert.Equal(t, ReplyRealtime, GetRealtime().Reply)
	assert.Equal(t, ReplySound, GetSoundStatus().Reply)
	assert.Equal(t, ReplySettings, GetSettings().Reply)
	assert.False(t, Heartbeat().ExpectsReply())
	assert.False(t, SetSound(true).ExpectsReply())
	assert.Equal(t, CmdGetSettings, GetSettings().ID())
}

func TestCatalog_SetTempUnit(t *testing.T) {
	c, err := SetTempUnit(TempUnitCelsius)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7B, 0x41, 0x00, 0x08, 0x22, 0x32, 0x02, 0x06, 0x00, 0xA9, 0xE3, 0x7D}, c.Frame.Bytes())

	f, err := SetTempUnit(TempUnitFahrenheit)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7B, 0x41, 0x00, 0x08, 0x22, 0x32, 0x02, 0x06, 0x01, 0x29, 0xE6, 0x7D}, f.Frame.Bytes())

	_, err = SetTempUnit("K")
	assert.True(t, IsValidationError(err))
}

func TestCatalog_SetAlarmThresholds(t *testing.T) {
	c, err := SetAlarmThresholds(800, 1000, 5)
	require.NoError(t, err)
	want := []byte{
		0x7B, 0x41, 0x00, 0x0F, 0x42, 0x43,
		0x04, 0x00, 0x40, 0x06,
		0x03, 0x20, 0x03, 0xE8, 0x00, 0x05,
		0x18, 0x44, 0x7D,
	}
	assert.Equal(t, want, c.Frame.Bytes())
	assert.False(t, c.ExpectsReply())
}

func TestCatalog_SetAlarmThresholds_Validation(t *testing.T) {
	tests := []struct {
		name      string
		low, high uint16
	}{
		{"low大于high", 1000, 900},
		{"low等于high", 900, 900},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := SetAlarmThresholds(tt.low, tt.high, 0)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.True(t, c.Frame.IsZero(), "no frame on validation error")
		})
	}
}

func TestCatalog_SetScreenOff(t *testing.T) {
	c := SetScreenOff(10)
	assert.Equal(t, []byte{0x7B, 0x41, 0x00, 0x0B, 0x42, 0x43, 0x04, 0x00, 0x20, 0x00, 0x00, 0x0A, 0x2E, 0xF9, 0x7D}, c.Frame.Bytes())
}

func TestCatalog_SyncTime(t *testing.T) {
	ts := time.Date(2024, time.March, 5, 13, 7, 9, 0, time.UTC)
	c := SyncTime(ts)
	assert.Equal(t, []byte{0x7B, 0x41, 0x00, 0x0C, 0x22, 0x42, 0x01, 0x18, 0x03, 0x05, 0x0D, 0x07, 0x09, 0x3D, 0x9F, 0x7D}, c.Frame.Bytes())
}

func TestCatalog_SubmitSSID(t *testing.T) {
	c, err := SubmitSSID("home", "secret")
	require.NoError(t, err)

	raw := c.Frame.Bytes()
	assert.Equal(t, CmdSubmitSSID, c.ID())
	assert.Equal(t, 163, len(raw))
	assert.Equal(t, byte(159), c.Frame.Length(), "len = content-1")

	p := c.Frame.Payload()
	assert.Equal(t, byte(0x01), p[0])
	assert.Equal(t, make([]byte, 22), p[1:23])
	assert.Equal(t, byte(6), p[23])
	assert.Equal(t, []byte("secret"), p[24:30])
	assert.Equal(t, make([]byte, 58), p[30:88])
	assert.Equal(t, []byte("home"), p[88:92])
	assert.Equal(t, make([]byte, 29+33), p[92:])

	// 配网命令族使用 xmodem 变体
	assert.Equal(t, VariantXModem.Checksum(raw[:len(raw)-3]), c.Frame.CRC())
	_, err = Decode(raw)
	assert.NoError(t, err)
}

func TestCatalog_SubmitSSID_Validation(t *testing.T) {
	_, err := SubmitSSID("", "x")
	assert.True(t, IsValidationError(err))

	_, err = SubmitSSID(string(make([]byte, 34)), "x")
	assert.True(t, IsValidationError(err))

	_, err = SubmitSSID("ok", string(make([]byte, 65)))
	assert.True(t, IsValidationError(err))
}

func TestCatalog_SubmitAESKey(t *testing.T) {
	key := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F}
	c, err := SubmitAESKey(base64.StdEncoding.EncodeToString(key), "abcdefghijklmnop", "mqtt.example.com")
	require.NoError(t, err)

	p := c.Frame.Payload()
	assert.Equal(t, byte(0x01), p[0])
	assert.Equal(t, byte(16), p[1])
	assert.Equal(t, key, p[2:18])
	assert.Equal(t, byte(16), p[18])
	assert.Equal(t, []byte("abcdefghijklmnop"), p[19:35])
	assert.Equal(t, byte(16), p[35])
	assert.Equal(t, []byte("mqtt.example.com"), p[36:])
	assert.Equal(t, CmdSubmitAESKey, c.ID())
}

func TestCatalog_SubmitAESKey_RawKeyFallback(t *testing.T) {
	c, err := SubmitAESKey("not*base64", "iv", "srv")
	require.NoError(t, err)
	p := c.Frame.Payload()
	assert.Equal(t, byte(len("not*base64")), p[1])
	assert.Equal(t, []byte("not*base64"), p[2:12])

	_, err = SubmitAESKey("a2V5", "", "srv")
	assert.True(t, IsValidationError(err))
}

func TestCatalog_NonDefaultVariantReencodesFixed(t *testing.T) {
	cat := NewCatalog(NewCodec(WithVariant(VariantXModem)))
	c := cat.GetRealtime()
	assert.Equal(t, []byte{0x7B, 0x41, 0x00, 0x07, 0x40, 0x44, 0x02, 0x00, 0xAD, 0x69, 0x7D}, c.Frame.Bytes())
}

func TestParseTempUnit(t *testing.T) {
	u, err := ParseTempUnit("Celsius")
	require.NoError(t, err)
	assert.Equal(t, TempUnitCelsius, u)
	u, err = ParseTempUnit("f")
	require.NoError(t, err)
	assert.Equal(t, TempUnitFahrenheit, u)
	_, err = ParseTempUnit("kelvin")
	assert.Error(t, err)
}
