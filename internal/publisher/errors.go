package publisher

import "errors"

var (
	// ErrNotConnected 客户端未连接
	ErrNotConnected = errors.New("mqtt: client not connected")
	// ErrConnectionFailed 初次连接失败
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	// ErrPublishFailed 发布失败
	ErrPublishFailed = errors.New("mqtt: publish failed")
	// ErrTimeout 等待 broker 确认超时
	ErrTimeout = errors.New("mqtt: operation timed out")
	// ErrInvalidQoS QoS 只允许 0/1/2
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")
)
