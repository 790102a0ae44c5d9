package htram

import "fmt"

// 遥测字段偏移（相对帧起始）
const (
	offCO2         = 7  // [7:9] 大端
	offTemperature = 9  // 有符号字节
	offHumidity    = 10 // %
	offBatteryBars = 11 // 0-4 格
	offCharging    = 12 // 1=充电中
	offMute        = 9  // 0=静音
	offAlarmLow    = 7  // [7:9]
	offAlarmHigh   = 9  // [9:11]
	offScreenOff   = 11 // [11:13]

	minRealtimeLen = 13
	minSoundLen    = 10
	minSettingsLen = 13

	batteryPerBar = 25
)

// Realtime 实时测量值
type Realtime struct {
	CO2         uint16 `json:"co2"`
	Temperature int16  `json:"temperature"`
	Humidity    uint8  `json:"humidity"`
	Battery     uint8  `json:"battery"`
	BatteryBars uint8  `json:"battery_bars"`
	Charging    bool   `json:"charging"`
}

// Sound 蜂鸣器状态
type Sound struct {
	Mute bool `json:"mute"`
}

// Settings 报警阈值与息屏时间
type Settings struct {
	AlarmLow         uint16 `json:"alarm_low"`
	AlarmHigh        uint16 `json:"alarm_high"`
	ScreenOffMinutes uint16 `json:"screen_off_minutes"`
}

// DecodeTemperature 温度字节按有符号解释：>128 时减 256
func DecodeTemperature(raw byte) int16 {
	t := int16(raw)
	if raw > 128 {
		t -= 256
	}
	return t
}

// BatteryPercent 电量格数换算百分比（每格25%，上限100）
func BatteryPercent(bars byte) uint8 {
	p := int(bars) * batteryPerBar
	if p > 100 {
		p = 100
	}
	return uint8(p)
}

func checkFrame(f Frame, want CommandID, minLen int) error {
	if f.Command() != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedCommand, f.Command(), want)
	}
	if f.Len() < minLen {
		return fmt.Errorf("%w: %d bytes, need %d", ErrTruncated, f.Len(), minLen)
	}
	return nil
}

// DecodeRealtime 解析 0x4144 实时数据应答
func DecodeRealtime(f Frame) (Realtime, error) {
	if err := checkFrame(f, RespRealtime, minRealtimeLen); err != nil {
		return Realtime{}, err
	}
	bars := f.byteAt(offBatteryBars)
	return Realtime{
		CO2:         f.u16At(offCO2),
		Temperature: DecodeTemperature(f.byteAt(offTemperature)),
		Humidity:    f.byteAt(offHumidity),
		Battery:     BatteryPercent(bars),
		BatteryBars: bars,
		Charging:    f.byteAt(offCharging) == 1,
	}, nil
}

// DecodeSound 解析 0x2723 蜂鸣器状态应答
func DecodeSound(f Frame) (Sound, error) {
	if err := checkFrame(f, RespSound, minSoundLen); err != nil {
		return Sound{}, err
	}
	return Sound{Mute: f.byteAt(offMute) == 0}, nil
}

// DecodeSettings 解析 0x4143 设置应答
func DecodeSettings(f Frame) (Settings, error) {
	if err := checkFrame(f, RespSettings, minSettingsLen); err != nil {
		return Settings{}, err
	}
	return Settings{
		AlarmLow:         f.u16At(offAlarmLow),
		AlarmHigh:        f.u16At(offAlarmHigh),
		ScreenOffMinutes: f.u16At(offScreenOff),
	}, nil
}
