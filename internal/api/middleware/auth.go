// Package middleware 提供HTTP中间件
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthConfig API认证配置
type AuthConfig struct {
	Enabled   bool
	APIKeys   []string
	OpenReads bool // GET/HEAD 不校验，仅保护设备写命令
}

// ContextKeyClient 认证通过后写入 gin.Context 的脱敏 key
const ContextKeyClient = "api_client"

// APIKeyAuth 从 X-API-Key 或 Authorization: Bearer 读取 key
func APIKeyAuth(cfg AuthConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	keys := make([][]byte, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(c *gin.Context) {
		if !cfg.Enabled || (cfg.OpenReads && isRead(c.Request.Method)) {
			c.Next()
			return
		}

		key := requestKey(c.Request)
		switch {
		case key == "":
			deny(c, logger, http.StatusUnauthorized, "missing api key", "")
		case !matchKey(keys, key):
			deny(c, logger, http.StatusForbidden, "invalid api key", maskAPIKey(key))
		default:
			c.Set(ContextKeyClient, maskAPIKey(key))
			c.Next()
		}
	}
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func requestKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func matchKey(keys [][]byte, key string) bool {
	got := []byte(key)
	found := 0
	for _, k := range keys {
		found |= subtle.ConstantTimeCompare(k, got)
	}
	return found == 1
}

func deny(c *gin.Context, logger *zap.Logger, code int, reason, masked string) {
	logger.Warn("api auth rejected",
		zap.String("reason", reason),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("remote_addr", c.ClientIP()),
		zap.String("api_key", masked))
	c.AbortWithStatusJSON(code, gin.H{"error": reason})
}

// maskAPIKey 仅保留前后各4位
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
