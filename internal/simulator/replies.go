package simulator

import (
	"encoding/binary"

	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
)

// RealtimeReply 构造 0x4144 应答
func RealtimeReply(s State) []byte {
	payload := make([]byte, 0, 6)
	payload = append(payload, 0x05)
	payload = binary.BigEndian.AppendUint16(payload, s.CO2)
	payload = append(payload, byte(int8(s.Temperature)), s.Humidity, s.BatteryBars, boolByte(s.Charging))
	return htram.Encode(htram.RespRealtime, payload).Bytes()
}

// SoundReply 构造 0x2723 应答；静音时状态字节为 0
func SoundReply(mute bool) []byte {
	return htram.Encode(htram.RespSound, []byte{0x01, 0x00, 0x00, boolByte(!mute)}).Bytes()
}

// SettingsReply 构造 0x4143 应答
func SettingsReply(low, high, screenOff uint16) []byte {
	payload := []byte{0x04}
	payload = binary.BigEndian.AppendUint16(payload, low)
	payload = binary.BigEndian.AppendUint16(payload, high)
	payload = binary.BigEndian.AppendUint16(payload, screenOff)
	return htram.Encode(htram.RespSettings, payload).Bytes()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
