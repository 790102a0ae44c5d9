package htram

import (
	"fmt"
	"strings"

	"github.com/sigurn/crc16"
)

// Variant CRC-16 变体（协议演进中出现过两种）
type Variant int

const (
	// VariantBuypass poly=0x8005, init=0, 不反射，与设备抓包中的所有固定命令一致（默认）
	VariantBuypass Variant = iota
	// VariantXModem poly=0x1021 (CCITT), init=0, 不反射，配网帧使用
	VariantXModem
)

var (
	tableBuypass = crc16.MakeTable(crc16.CRC16_BUYPASS)
	tableXModem  = crc16.MakeTable(crc16.CRC16_XMODEM)
)

// DefaultVariant 线上格式的规范变体
const DefaultVariant = VariantBuypass

func (v Variant) String() string {
	switch v {
	case VariantBuypass:
		return "buypass"
	case VariantXModem:
		return "xmodem"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// poly 生成多项式
func (v Variant) poly() uint16 {
	if v == VariantXModem {
		return 0x1021
	}
	return 0x8005
}

func (v Variant) table() *crc16.Table {
	if v == VariantXModem {
		return tableXModem
	}
	return tableBuypass
}

// Checksum 按该变体计算 16 位校验值
func (v Variant) Checksum(data []byte) uint16 {
	return crc16.Checksum(data, v.table())
}

// Checksum 使用规范变体计算校验值
func Checksum(data []byte) uint16 {
	return DefaultVariant.Checksum(data)
}

// ParseVariant 从配置字符串解析变体（buypass|8005|xmodem|ccitt|1021）
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "buypass", "8005", "0x8005":
		return VariantBuypass, nil
	case "xmodem", "ccitt", "1021", "0x1021":
		return VariantXModem, nil
	default:
		return 0, fmt.Errorf("unknown crc variant %q", s)
	}
}
