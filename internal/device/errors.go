package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/taoyao-code/htram-gateway/internal/transport"
)

// CycleErrorKind 轮询失败类别
type CycleErrorKind int

const (
	CycleTimeout    CycleErrorKind = iota // 整个轮询超出时限
	CycleTransport                        // 链路错误，已回收连接
	CycleUnexpected                       // 其他错误
)

func (k CycleErrorKind) String() string {
	switch k {
	case CycleTimeout:
		return "timeout"
	case CycleTransport:
		return "transport"
	case CycleUnexpected:
		return "unexpected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CycleError 轮询失败
type CycleError struct {
	Kind CycleErrorKind
	Err  error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("poll cycle %s: %v", e.Kind, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// ErrUnknownDevice 设备名未注册
var ErrUnknownDevice = errors.New("unknown device")

// CycleKind 返回错误的轮询失败类别
func CycleKind(err error) (CycleErrorKind, bool) {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// classify 超时优先于链路错误判断
func classify(ctx context.Context, err error) *CycleError {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &CycleError{Kind: CycleTimeout, Err: err}
	case transport.IsTransportError(err):
		return &CycleError{Kind: CycleTransport, Err: err}
	default:
		return &CycleError{Kind: CycleUnexpected, Err: err}
	}
}
