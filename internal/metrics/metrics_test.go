package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppMetrics_Recorders(t *testing.T) {
	reg := NewRegistry()
	m := NewAppMetrics(reg)

	m.ObserveExchange("realtime", "ok", 120*time.Millisecond)
	m.ObserveExchange("realtime", "timeout", 5*time.Second)
	m.ObserveExchange("HEARTBEAT", "sent", 0)
	m.RecordSession("connect", "ok")
	m.RecordSession("recycle", "realtime_timeout")
	m.RecordSession("breaker", "open")
	m.DeviceRecorder("office")("poll", "ok")
	m.DeviceRecorder("office")("set_mute", "ok")
	m.SetReading("office", map[string]float64{"co2": 650, "temperature": -3})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExchangeTotal.WithLabelValues("realtime", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExchangeTotal.WithLabelValues("HEARTBEAT", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionConnect.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionRecycle.WithLabelValues("realtime_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollCycleTotal.WithLabelValues("office", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandTotal.WithLabelValues("office", "set_mute", "ok")))
	assert.Equal(t, 650.0, testutil.ToFloat64(m.Reading.WithLabelValues("office", "co2")))
	assert.Equal(t, -3.0, testutil.ToFloat64(m.Reading.WithLabelValues("office", "temperature")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewAppMetrics(reg)
	m.ObserveExchange("sound", "ok", 80*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `htram_exchange_total{kind="sound",result="ok"} 1`)
	assert.Contains(t, string(body), `htram_exchange_seconds_count{kind="sound"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
