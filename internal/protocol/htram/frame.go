package htram

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// 帧格式：7B(1) + type(1) + len_hi(1) + len_lo(1) + cmd(2) + payload(var) + crc(2, 大端) + 7D(1)
// len = (起始字节到最后一个载荷字节的字节数 - 1) & 0xFF
const (
	StartByte byte = 0x7B
	EndByte   byte = 0x7D
	FrameType byte = 0x41

	HeaderSize   = 6
	TrailerSize  = 3 // crc(2) + 7D
	MinFrameSize = HeaderSize + TrailerSize
)

// CommandID 两字节命令字
type CommandID uint16

func (c CommandID) String() string {
	return fmt.Sprintf("0x%04X", uint16(c))
}

// Frame 完整的协议帧（构造后不可变，访问器返回副本）
type Frame struct {
	raw []byte
}

// Bytes 返回帧的原始字节副本
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.raw))
	copy(out, f.raw)
	return out
}

// Len 帧总长度
func (f Frame) Len() int { return len(f.raw) }

// IsZero 是否为空帧
func (f Frame) IsZero() bool { return len(f.raw) == 0 }

// Type 帧类型字节
func (f Frame) Type() byte {
	if len(f.raw) < 2 {
		return 0
	}
	return f.raw[1]
}

// Length 长度字段（低字节）
func (f Frame) Length() byte {
	if len(f.raw) < 4 {
		return 0
	}
	return f.raw[3]
}

// Command 命令字
func (f Frame) Command() CommandID {
	if len(f.raw) < HeaderSize {
		return 0
	}
	return CommandID(binary.BigEndian.Uint16(f.raw[4:6]))
}

// Payload 命令字之后、CRC 之前的载荷副本
func (f Frame) Payload() []byte {
	if len(f.raw) < MinFrameSize {
		return nil
	}
	p := f.raw[HeaderSize : len(f.raw)-TrailerSize]
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

// CRC 帧内携带的校验值
func (f Frame) CRC() uint16 {
	if len(f.raw) < MinFrameSize {
		return 0
	}
	return binary.BigEndian.Uint16(f.raw[len(f.raw)-3 : len(f.raw)-1])
}

// Hex 大写十六进制（空格分隔），用于日志
func (f Frame) Hex() string {
	return hexSpaced(f.raw)
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{cmd=%s, len=%d, hex=%s}", f.Command(), len(f.raw), f.Hex())
}

// byteAt 按帧起始偏移取字节（遥测解码使用）
func (f Frame) byteAt(i int) byte { return f.raw[i] }

func (f Frame) u16At(i int) uint16 { return binary.BigEndian.Uint16(f.raw[i : i+2]) }

// Codec 帧编解码器
type Codec struct {
	variant Variant
	accept  []Variant
	verify  bool
}

// CodecOption 编解码器选项
type CodecOption func(*Codec)

// WithVariant 设置编码使用的 CRC 变体
func WithVariant(v Variant) CodecOption {
	return func(c *Codec) { c.variant = v }
}

// WithAcceptedVariants 设置解码时接受的 CRC 变体
func WithAcceptedVariants(vs ...Variant) CodecOption {
	return func(c *Codec) {
		if len(vs) > 0 {
			c.accept = append([]Variant(nil), vs...)
		}
	}
}

// WithChecksumVerify 开关接收方向的 CRC 校验
func WithChecksumVerify(on bool) CodecOption {
	return func(c *Codec) { c.verify = on }
}

// NewCodec 创建编解码器；默认按 buypass 编码，解码接受两种变体并校验 CRC
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		variant: DefaultVariant,
		accept:  []Variant{VariantBuypass, VariantXModem},
		verify:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Variant 编码变体
func (c *Codec) Variant() Variant { return c.variant }

var defaultCodec = NewCodec()

// Encode 使用默认编解码器构造帧
func Encode(cmd CommandID, payload []byte) Frame {
	return defaultCodec.Encode(cmd, payload)
}

// Decode 使用默认编解码器解析帧
func Decode(raw []byte) (Frame, error) {
	return defaultCodec.Decode(raw)
}

// Encode 构造帧：头 + 载荷 + CRC(大端) + 7D
func (c *Codec) Encode(cmd CommandID, payload []byte) Frame {
	buf := make([]byte, 0, HeaderSize+len(payload)+TrailerSize)
	buf = append(buf, StartByte, FrameType, 0x00, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(cmd))
	buf = append(buf, payload...)
	buf[3] = byte((len(buf) - 1) & 0xFF)

	buf = binary.BigEndian.AppendUint16(buf, c.variant.Checksum(buf))
	buf = append(buf, EndByte)
	return Frame{raw: buf}
}

// Decode 校验并解析一帧
// 顺序：长度 → 结束符 → 起始符 → 长度字段 → CRC
func (c *Codec) Decode(raw []byte) (Frame, error) {
	if len(raw) < HeaderSize {
		return Frame{}, frameErr(FrameTooShort, "%d bytes", len(raw))
	}
	if raw[len(raw)-1] != EndByte {
		return Frame{}, frameErr(FrameBadTerminator, "last byte 0x%02X", raw[len(raw)-1])
	}
	if len(raw) < MinFrameSize {
		return Frame{}, frameErr(FrameTooShort, "%d bytes", len(raw))
	}
	if raw[0] != StartByte {
		return Frame{}, frameErr(FrameBadStart, "first byte 0x%02X", raw[0])
	}
	if want := byte((len(raw) - TrailerSize - 1) & 0xFF); raw[3] != want {
		return Frame{}, frameErr(FrameLengthMismatch, "declared %d, received %d", raw[3], want)
	}

	content := raw[:len(raw)-TrailerSize]
	if c.verify {
		got := binary.BigEndian.Uint16(raw[len(raw)-3 : len(raw)-1])
		if !c.matches(content, got) {
			return Frame{}, frameErr(FrameChecksumMismatch, "crc 0x%04X", got)
		}
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	return Frame{raw: out}, nil
}

func (c *Codec) matches(content []byte, got uint16) bool {
	for _, v := range c.accept {
		if v.Checksum(content) == got {
			return true
		}
	}
	return false
}

// literalFrame 用抓包得到的原始字节构造固定帧（不重新计算 CRC）
func literalFrame(s string) Frame {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("htram: bad literal %q: %v", s, err))
	}
	return Frame{raw: b}
}

func hexSpaced(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*3-1)
	for i, v := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, digits[v>>4], digits[v&0x0F])
	}
	return string(out)
}

// EncodeWith 按指定变体构造帧（不同命令族使用不同 CRC 时使用）
func (c *Codec) EncodeWith(v Variant, cmd CommandID, payload []byte) Frame {
	saved := *c
	saved.variant = v
	return saved.Encode(cmd, payload)
}
