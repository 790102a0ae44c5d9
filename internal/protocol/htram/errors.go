package htram

import (
	"errors"
	"fmt"
)

// FrameErrorKind 帧错误类别
type FrameErrorKind int

const (
	FrameTooShort         FrameErrorKind = iota + 1 // 长度不足
	FrameBadStart                                   // 起始字节不是 0x7B
	FrameBadTerminator                              // 结束字节不是 0x7D
	FrameLengthMismatch                             // 长度字段与实际字节数不符
	FrameChecksumMismatch                           // CRC 校验失败
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameTooShort:
		return "too short"
	case FrameBadStart:
		return "bad start byte"
	case FrameBadTerminator:
		return "bad terminator"
	case FrameLengthMismatch:
		return "length mismatch"
	case FrameChecksumMismatch:
		return "checksum mismatch"
	default:
		return "unknown"
	}
}

// FrameError 帧解码错误，可用 errors.Is 与 ErrTooShort 等哨兵比较
type FrameError struct {
	Kind   FrameErrorKind
	Detail string
}

func (e *FrameError) Error() string {
	if e.Detail == "" {
		return "htram frame: " + e.Kind.String()
	}
	return fmt.Sprintf("htram frame: %s: %s", e.Kind, e.Detail)
}

// Is 按类别匹配
func (e *FrameError) Is(target error) bool {
	t, ok := target.(*FrameError)
	return ok && t.Kind == e.Kind
}

var (
	ErrTooShort         = &FrameError{Kind: FrameTooShort}
	ErrBadStart         = &FrameError{Kind: FrameBadStart}
	ErrBadTerminator    = &FrameError{Kind: FrameBadTerminator}
	ErrLengthMismatch   = &FrameError{Kind: FrameLengthMismatch}
	ErrChecksumMismatch = &FrameError{Kind: FrameChecksumMismatch}

	// ErrTruncated 遥测帧长度不足以解析对应字段
	ErrTruncated = errors.New("htram telemetry: truncated frame")
	// ErrUnexpectedCommand 遥测解码收到了不匹配的命令字
	ErrUnexpectedCommand = errors.New("htram telemetry: unexpected command id")
)

func frameErr(kind FrameErrorKind, format string, args ...interface{}) error {
	return &FrameError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// ValidationError 命令参数校验失败（不会生成任何帧）
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("htram command: invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError 判断是否为参数校验错误
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
