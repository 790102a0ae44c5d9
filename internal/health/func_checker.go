package health

import "context"

// FuncChecker 以函数实现的检查器，失败时按 onFail 记状态
type FuncChecker struct {
	name   string
	fn     func(ctx context.Context) error
	onFail Status
}

// NewFuncChecker 创建函数检查器
func NewFuncChecker(name string, onFail Status, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn, onFail: onFail}
}

// Name 返回检查器名称
func (c *FuncChecker) Name() string { return c.name }

// Check 执行检查
func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	if err := c.fn(ctx); err != nil {
		return CheckResult{Status: c.onFail, Message: err.Error()}
	}
	return ok(nil)
}
