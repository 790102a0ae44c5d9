package htram

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// 下行命令字
const (
	CmdHeartbeat      CommandID = 0x2401
	CmdGetRealtime    CommandID = 0x4044
	CmdGetSettings    CommandID = 0x4043
	CmdGetSoundStatus CommandID = 0x2623
	CmdSetSound       CommandID = 0x2643
	CmdGetTempUnit    CommandID = 0x206E
	CmdSetTempUnit    CommandID = 0x2232
	CmdSetAlarm       CommandID = 0x4243 // 阈值与息屏时间共用
	CmdSyncTime       CommandID = 0x2242
	CmdSubmitSSID     CommandID = 0x7460
	CmdSubmitAESKey   CommandID = 0x20B0
)

// 上行应答命令字
const (
	RespRealtime CommandID = 0x4144
	RespSettings CommandID = 0x4143
	RespSound    CommandID = 0x2723
)

// ReplyKind 应答类别
type ReplyKind int

const (
	ReplyNone ReplyKind = iota // 只写命令，不等待应答
	ReplyRealtime
	ReplySettings
	ReplySound
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyNone:
		return "none"
	case ReplyRealtime:
		return "realtime"
	case ReplySettings:
		return "settings"
	case ReplySound:
		return "sound"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ReplyKindOf 将上行命令字映射为应答类别；未知命令字返回 false
func ReplyKindOf(id CommandID) (ReplyKind, bool) {
	switch id {
	case RespRealtime:
		return ReplyRealtime, true
	case RespSettings:
		return ReplySettings, true
	case RespSound:
		return ReplySound, true
	default:
		return ReplyNone, false
	}
}

// TempUnit 温度单位
type TempUnit string

const (
	TempUnitCelsius    TempUnit = "C"
	TempUnitFahrenheit TempUnit = "F"
)

// ParseTempUnit 解析 C/F/celsius/fahrenheit
func ParseTempUnit(s string) (TempUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "celsius":
		return TempUnitCelsius, nil
	case "f", "fahrenheit":
		return TempUnitFahrenheit, nil
	default:
		return "", &ValidationError{Field: "temp_unit", Reason: fmt.Sprintf("unknown unit %q", s)}
	}
}

// Command 可直接发送的命令
type Command struct {
	Name  string
	Frame Frame
	Reply ReplyKind
}

// ID 命令字
func (c Command) ID() CommandID { return c.Frame.Command() }

// ExpectsReply 是否需要等待应答
func (c Command) ExpectsReply() bool { return c.Reply != ReplyNone }

func (c Command) String() string {
	return fmt.Sprintf("%s(%s)", c.Name, c.ID())
}

// 抓包得到的固定命令（buypass 变体）
const (
	litHeartbeat      = "7B41000624010178227D"
	litGetRealtime    = "7B41000740440200FC3E7D"
	litGetSoundStatus = "7B4100072623010009C07D"
	litSetSoundOff    = "7B410009264301000000AB637D"
	litSetSoundOn     = "7B4100092643010000012B667D"
	litGetSettings    = "7B410009404304006006EF177D"
	litGetTempUnit    = "7B410007206E02067E307D"
	litSetTempUnitC   = "7B4100082232020600A9E37D"
	litSetTempUnitF   = "7B410008223202060129E67D"
)

// 阈值/息屏命令的子命令字节
var (
	alarmFullPrefix   = []byte{0x04, 0x00, 0x40, 0x06}
	screenOffPrefix   = []byte{0x04, 0x00, 0x20, 0x00}
	tempUnitPrefix    = []byte{0x02, 0x06}
	soundPrefix       = []byte{0x01, 0x00, 0x00}
	fetchRealtimeArgs = []byte{0x02, 0x00}
)

// 配网字段长度
const (
	ssidZeroPrefix = 22
	passwordField  = 64
	ssidField      = 33
	ssidZeroSuffix = 33
	maxPrefixed    = 0xFF
)

// Catalog 命令目录
// 固定命令直接使用抓包字节；参数化命令通过编解码器计算
type Catalog struct {
	codec        *Codec
	provisioning Variant
}

// CatalogOption 命令目录选项
type CatalogOption func(*Catalog)

// WithProvisioningVariant 配网命令（0x7460/0x20B0）使用的 CRC 变体
func WithProvisioningVariant(v Variant) CatalogOption {
	return func(c *Catalog) { c.provisioning = v }
}

// NewCatalog 创建命令目录；配网命令默认按 App 工具类使用 xmodem 变体
func NewCatalog(codec *Codec, opts ...CatalogOption) *Catalog {
	if codec == nil {
		codec = defaultCodec
	}
	c := &Catalog{codec: codec, provisioning: VariantXModem}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCatalog = NewCatalog(nil)

// fixed 规范变体下使用抓包字节，其他变体下重新编码
func (c *Catalog) fixed(name, literal string, cmd CommandID, payload []byte, reply ReplyKind) Command {
	var f Frame
	if c.codec.Variant() == DefaultVariant {
		f = literalFrame(literal)
	} else {
		f = c.codec.Encode(cmd, payload)
	}
	return Command{Name: name, Frame: f, Reply: reply}
}

// Heartbeat 心跳（保活，不等待应答）
func (c *Catalog) Heartbeat() Command {
	return c.fixed("HEARTBEAT", litHeartbeat, CmdHeartbeat, []byte{0x01}, ReplyNone)
}

// GetRealtime 读取实时数据
func (c *Catalog) GetRealtime() Command {
	return c.fixed("GET_REALTIME", litGetRealtime, CmdGetRealtime, fetchRealtimeArgs, ReplyRealtime)
}

// GetSoundStatus 读取蜂鸣器状态
func (c *Catalog) GetSoundStatus() Command {
	return c.fixed("GET_SOUND_STATUS", litGetSoundStatus, CmdGetSoundStatus, []byte{0x01, 0x00}, ReplySound)
}

// GetSettings 读取报警阈值与息屏时间
// 抓包中的 CRC(EF17) 与两种变体都不一致，规范变体下原样发送
func (c *Catalog) GetSettings() Command {
	return c.fixed("GET_SETTINGS", litGetSettings, CmdGetSettings, []byte{0x04, 0x00, 0x60, 0x06}, ReplySettings)
}

// GetTempUnit 读取温度单位（设备应答格式未知，不参与轮询）
func (c *Catalog) GetTempUnit() Command {
	return c.fixed("GET_TEMP_UNIT", litGetTempUnit, CmdGetTempUnit, []byte{0x02, 0x06}, ReplyNone)
}

// SetSound 开关蜂鸣器；on=false 即静音
func (c *Catalog) SetSound(on bool) Command {
	if on {
		return c.fixed("SET_SOUND_ON", litSetSoundOn, CmdSetSound, append(soundPrefix[:3:3], 0x01), ReplyNone)
	}
	return c.fixed("SET_SOUND_OFF", litSetSoundOff, CmdSetSound, append(soundPrefix[:3:3], 0x00), ReplyNone)
}

// SetTempUnit 设置温度单位
func (c *Catalog) SetTempUnit(unit TempUnit) (Command, error) {
	switch unit {
	case TempUnitCelsius:
		return c.fixed("SET_TEMP_UNIT_C", litSetTempUnitC, CmdSetTempUnit, append(tempUnitPrefix[:2:2], 0x00), ReplyNone), nil
	case TempUnitFahrenheit:
		return c.fixed("SET_TEMP_UNIT_F", litSetTempUnitF, CmdSetTempUnit, append(tempUnitPrefix[:2:2], 0x01), ReplyNone), nil
	default:
		return Command{}, &ValidationError{Field: "temp_unit", Reason: fmt.Sprintf("unknown unit %q", unit)}
	}
}

// SetAlarmThresholds 完整更新报警阈值与息屏时间（大端 u16 x3）
// 要求 low < high，否则返回 ValidationError 且不生成帧
func (c *Catalog) SetAlarmThresholds(low, high, screenOff uint16) (Command, error) {
	if low >= high {
		return Command{}, &ValidationError{
			Field:  "thresholds",
			Reason: fmt.Sprintf("low (%d) must be less than high (%d)", low, high),
		}
	}
	payload := make([]byte, 0, len(alarmFullPrefix)+6)
	payload = append(payload, alarmFullPrefix...)
	payload = binary.BigEndian.AppendUint16(payload, low)
	payload = binary.BigEndian.AppendUint16(payload, high)
	payload = binary.BigEndian.AppendUint16(payload, screenOff)
	return Command{Name: "SET_ALARM_THRESHOLDS", Frame: c.codec.Encode(CmdSetAlarm, payload)}, nil
}

// SetScreenOff 单独设置息屏时间（分钟）
func (c *Catalog) SetScreenOff(minutes uint16) Command {
	payload := make([]byte, 0, len(screenOffPrefix)+2)
	payload = append(payload, screenOffPrefix...)
	payload = binary.BigEndian.AppendUint16(payload, minutes)
	return Command{Name: "SET_SCREEN_OFF", Frame: c.codec.Encode(CmdSetAlarm, payload)}
}

// SyncTime 同步设备时钟：year%100, month, day, hour, minute, second（原始字节）
// 调用方负责时区（网关统一传 UTC）
func (c *Catalog) SyncTime(t time.Time) Command {
	payload := []byte{
		0x01,
		byte(t.Year() % 100),
		byte(t.Month()),
		byte(t.Day()),
		byte(t.Hour()),
		byte(t.Minute()),
		byte(t.Second()),
	}
	return Command{Name: "SYNC_TIME", Frame: c.codec.Encode(CmdSyncTime, payload)}
}

// SubmitSSID Wi-Fi 配网
// 载荷：01 + 22个0 + 密码长度(1) + 密码(补齐64) + SSID(补齐33) + 33个0
func (c *Catalog) SubmitSSID(ssid, password string) (Command, error) {
	if ssid == "" {
		return Command{}, &ValidationError{Field: "ssid", Reason: "empty"}
	}
	if len(ssid) > ssidField {
		return Command{}, &ValidationError{Field: "ssid", Reason: fmt.Sprintf("%d bytes exceeds %d", len(ssid), ssidField)}
	}
	if len(password) > passwordField {
		return Command{}, &ValidationError{Field: "password", Reason: fmt.Sprintf("%d bytes exceeds %d", len(password), passwordField)}
	}

	payload := make([]byte, 0, 1+ssidZeroPrefix+1+passwordField+ssidField+ssidZeroSuffix)
	payload = append(payload, 0x01)
	payload = append(payload, make([]byte, ssidZeroPrefix)...)
	payload = append(payload, byte(len(password)))
	payload = appendPadded(payload, []byte(password), passwordField)
	payload = appendPadded(payload, []byte(ssid), ssidField)
	payload = append(payload, make([]byte, ssidZeroSuffix)...)

	return Command{Name: "SUBMIT_SSID", Frame: c.codec.EncodeWith(c.provisioning, CmdSubmitSSID, payload)}, nil
}

// SubmitAESKey 下发云端 MQTT 服务器与 AES 密钥
// key 为 base64（解码失败时按原始字节发送），iv 与 server 按原始字节；三段均为 长度(1)+内容
func (c *Catalog) SubmitAESKey(keyB64, iv, server string) (Command, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		key = []byte(keyB64)
	}
	fields := []struct {
		name string
		val  []byte
	}{
		{"aes_key", key},
		{"aes_iv", []byte(iv)},
		{"server", []byte(server)},
	}

	payload := []byte{0x01}
	for _, f := range fields {
		if len(f.val) == 0 {
			return Command{}, &ValidationError{Field: f.name, Reason: "empty"}
		}
		if len(f.val) > maxPrefixed {
			return Command{}, &ValidationError{Field: f.name, Reason: fmt.Sprintf("%d bytes exceeds %d", len(f.val), maxPrefixed)}
		}
		payload = append(payload, byte(len(f.val)))
		payload = append(payload, f.val...)
	}
	return Command{Name: "SUBMIT_AES_KEY", Frame: c.codec.EncodeWith(c.provisioning, CmdSubmitAESKey, payload)}, nil
}

func appendPadded(dst, val []byte, size int) []byte {
	dst = append(dst, val...)
	return append(dst, make([]byte, size-len(val))...)
}

// 默认目录的便捷函数

func Heartbeat() Command      { return defaultCatalog.Heartbeat() }
func GetRealtime() Command    { return defaultCatalog.GetRealtime() }
func GetSoundStatus() Command { return defaultCatalog.GetSoundStatus() }
func GetSettings() Command    { return defaultCatalog.GetSettings() }
func GetTempUnit() Command    { return defaultCatalog.GetTempUnit() }
func SetSound(on bool) Command {
	return defaultCatalog.SetSound(on)
}
func SetTempUnit(unit TempUnit) (Command, error) {
	return defaultCatalog.SetTempUnit(unit)
}
func SetAlarmThresholds(low, high, screenOff uint16) (Command, error) {
	return defaultCatalog.SetAlarmThresholds(low, high, screenOff)
}
func SetScreenOff(minutes uint16) Command { return defaultCatalog.SetScreenOff(minutes) }
func SyncTime(t time.Time) Command        { return defaultCatalog.SyncTime(t) }
func SubmitSSID(ssid, password string) (Command, error) {
	return defaultCatalog.SubmitSSID(ssid, password)
}
func SubmitAESKey(keyB64, iv, server string) (Command, error) {
	return defaultCatalog.SubmitAESKey(keyB64, iv, server)
}
