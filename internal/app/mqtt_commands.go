package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/taoyao-code/htram-gateway/internal/device"
	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
)

// MQTTCommandHandler 将 {prefix}/{device}/set/{op} 下行消息路由到设备
// 支持 op：mute（on/off/true/false/1/0）、temp_unit（C/F）、screen_off（分钟）、sync_time、poll
func MQTTCommandHandler(devices *Devices) func(ctx context.Context, name, op string, payload []byte) error {
	return func(ctx context.Context, name, op string, payload []byte) error {
		p, ok := devices.Get(name)
		if !ok {
			return fmt.Errorf("%w: %s", device.ErrUnknownDevice, name)
		}
		arg := strings.TrimSpace(string(payload))
		switch strings.ReplaceAll(op, "-", "_") {
		case "mute":
			mute, err := parseSwitch(arg)
			if err != nil {
				return err
			}
			return p.SetMute(ctx, mute)
		case "temp_unit":
			unit, err := htram.ParseTempUnit(arg)
			if err != nil {
				return err
			}
			return p.SetTempUnit(ctx, unit)
		case "screen_off":
			n, err := strconv.ParseUint(arg, 10, 16)
			if err != nil {
				return fmt.Errorf("screen_off: %w", err)
			}
			return p.SetScreenOff(ctx, uint16(n))
		case "sync_time":
			return p.SyncTime(ctx)
		case "poll":
			_, err := p.Poll(ctx)
			return err
		default:
			return fmt.Errorf("unsupported op %q", op)
		}
	}
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q", s)
}
