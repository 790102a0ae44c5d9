package publisher

import (
	"strings"
)

// 主题布局：
//
//	{prefix}/gateway/status          网关在线状态（LWT，保留）
//	{prefix}/{device}/state          最新快照 JSON（保留）
//	{prefix}/{device}/availability   online / offline（保留）
//	{prefix}/{device}/set/{op}       下行控制
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return strings.Join(parts, "/")
	}
	return p + "/" + strings.Join(parts, "/")
}

// GatewayStatus 网关状态主题
func (t Topics) GatewayStatus() string { return t.join("gateway", "status") }

// State 设备快照主题
func (t Topics) State(device string) string { return t.join(device, "state") }

// Availability 设备在线主题
func (t Topics) Availability(device string) string { return t.join(device, "availability") }

// SetWildcard 全部设备的控制主题
func (t Topics) SetWildcard() string { return t.join("+", "set", "+") }

// ParseSet 解析控制主题，返回设备名与操作
func (t Topics) ParseSet(topic string) (device, op string, ok bool) {
	rest := topic
	if p := strings.Trim(t.Prefix, "/"); p != "" {
		if !strings.HasPrefix(topic, p+"/") {
			return "", "", false
		}
		rest = topic[len(p)+1:]
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}
