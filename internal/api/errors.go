package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/htram-gateway/internal/device"
	"github.com/taoyao-code/htram-gateway/internal/exchange"
	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
	"github.com/taoyao-code/htram-gateway/internal/session"
	"github.com/taoyao-code/htram-gateway/internal/transport"
)

// statusOf 错误到 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, device.ErrUnknownDevice):
		return http.StatusNotFound
	case htram.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, exchange.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case transport.IsTransportError(err):
		return http.StatusBadGateway
	}
	if kind, ok := device.CycleKind(err); ok {
		switch kind {
		case device.CycleTimeout:
			return http.StatusGatewayTimeout
		case device.CycleTransport:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func abortError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
