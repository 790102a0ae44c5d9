// Package transport 定义设备链路抽象：核心只依赖这里的接口，BLE 实现在 ble 子包
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Transport 链路工厂：按地址建立连接
type Transport interface {
	Connect(ctx context.Context, address string) (Conn, error)
}

// Conn 一条已建立的设备连接
// Subscribe 的回调在链路自己的 goroutine 上执行
type Conn interface {
	Write(ctx context.Context, char uuid.UUID, data []byte, withResponse bool) error
	Subscribe(char uuid.UUID, fn func([]byte)) error
	Unsubscribe(char uuid.UUID) error
	Disconnect() error
	IsConnected() bool
}

var (
	ErrNotConnected          = errors.New("not connected")
	ErrDeviceNotFound        = errors.New("device not found")
	ErrUnknownCharacteristic = errors.New("unknown characteristic")
)

// Error 链路层错误，Op 为 connect/write/subscribe/unsubscribe/disconnect
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap 包装为 *Error；nil 原样返回，已是 *Error 不重复包装
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsTransportError 判断是否为链路错误
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// 厂商私有服务与特征值
const (
	DefaultServiceUUID = "FC247940-6E08-11E4-80FC-0002A5D5C51B"
	DefaultNotifyUUID  = "F833D6C0-6E0B-11E4-9136-0002A5D5C51B"
	DefaultWriteUUID   = "3D115840-6E0B-11E4-B24F-0002A5D5C51B"
)

// Characteristics 服务与读写特征值
type Characteristics struct {
	Service uuid.UUID
	Notify  uuid.UUID
	Write   uuid.UUID
}

// DefaultCharacteristics 设备出厂特征值
func DefaultCharacteristics() Characteristics {
	return Characteristics{
		Service: uuid.MustParse(DefaultServiceUUID),
		Notify:  uuid.MustParse(DefaultNotifyUUID),
		Write:   uuid.MustParse(DefaultWriteUUID),
	}
}

// ParseCharacteristics 解析配置中的 UUID，空串使用默认值
func ParseCharacteristics(service, notify, write string) (Characteristics, error) {
	def := DefaultCharacteristics()
	out := def
	fields := []struct {
		name string
		val  string
		dst  *uuid.UUID
	}{
		{"service", service, &out.Service},
		{"notify", notify, &out.Notify},
		{"write", write, &out.Write},
	}
	for _, f := range fields {
		s := strings.TrimSpace(f.val)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return def, fmt.Errorf("invalid %s uuid %q: %w", f.name, f.val, err)
		}
		*f.dst = id
	}
	if out.Notify == out.Write {
		return def, fmt.Errorf("notify and write characteristic must differ: %s", out.Notify)
	}
	return out, nil
}
