package app

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// GatewayID 网关实例ID，同时用作 MQTT 默认 client id
// 优先使用环境变量 HTRAM_GATEWAY_ID，否则 htram-{hostname}-{uuid8}
func GatewayID() string {
	if id := strings.TrimSpace(os.Getenv("HTRAM_GATEWAY_ID")); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return "htram-" + sanitizeID(host) + "-" + uuid.NewString()[:8]
}

// sanitizeID 仅保留 [a-zA-Z0-9-]，部分 broker 拒绝其他字符
func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '.' || r == '_':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
