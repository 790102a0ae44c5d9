package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/htram-gateway/internal/api/middleware"
	"github.com/taoyao-code/htram-gateway/internal/device"
	"github.com/taoyao-code/htram-gateway/internal/exchange"
	"github.com/taoyao-code/htram-gateway/internal/health"
	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
	"github.com/taoyao-code/htram-gateway/internal/session"
	"github.com/taoyao-code/htram-gateway/internal/storage/models"
	"github.com/taoyao-code/htram-gateway/internal/transport"
)

type fakeController struct {
	name string

	mu      sync.Mutex
	reading device.Reading
	calls   []string
	err     error
	pollErr error
}

func u16(v uint16) *uint16 { return &v }

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) Name() string             { return f.name }
func (f *fakeController) Snapshot() device.Reading { return f.reading.Clone() }
func (f *fakeController) Poll(context.Context) (device.Reading, error) {
	_ = f.record("poll")
	return f.reading.Clone(), f.pollErr
}
func (f *fakeController) SetMute(_ context.Context, mute bool) error {
	if err := f.record("mute"); err != nil {
		return err
	}
	f.reading.Mute = &mute
	return nil
}
func (f *fakeController) SetTempUnit(_ context.Context, unit htram.TempUnit) error {
	if err := f.record("temp_unit:" + string(unit)); err != nil {
		return err
	}
	f.reading.TempUnit = &unit
	return nil
}
func (f *fakeController) SetAlarmThresholds(_ context.Context, low, high, screenOff *uint16) error {
	if err := f.record("thresholds"); err != nil {
		return err
	}
	if low != nil {
		f.reading.AlarmLow = low
	}
	if high != nil {
		f.reading.AlarmHigh = high
	}
	if screenOff != nil {
		f.reading.ScreenOffMinutes = screenOff
	}
	return nil
}
func (f *fakeController) SetScreenOff(_ context.Context, m uint16) error {
	if err := f.record("screen_off"); err != nil {
		return err
	}
	f.reading.ScreenOffMinutes = &m
	return nil
}
func (f *fakeController) SyncTime(context.Context) error { return f.record("sync_time") }
func (f *fakeController) ProvisionWiFi(_ context.Context, ssid, _ string) error {
	return f.record("wifi:" + ssid)
}
func (f *fakeController) ProvisionMQTT(_ context.Context, server, _, _ string) error {
	return f.record("mqtt:" + server)
}

type fakeRegistry struct {
	devices map[string]*fakeController
}

func (r fakeRegistry) Lookup(name string) (Controller, bool) {
	c, ok := r.devices[name]
	if !ok {
		return nil, false
	}
	return c, true
}

func (r fakeRegistry) Names() []string {
	names := make([]string, 0, len(r.devices))
	for n := range r.devices {
		names = append(names, n)
	}
	return names
}

func (r fakeRegistry) Status(name string) (health.DeviceStatus, bool) {
	if _, ok := r.devices[name]; !ok {
		return health.DeviceStatus{}, false
	}
	return health.DeviceStatus{Name: name, Session: "connected", LastResult: "ok"}, true
}

type fakeHistory struct {
	gotSince time.Time
	gotLimit int
}

func (h *fakeHistory) History(_ context.Context, name string, since time.Time, limit int) ([]models.Reading, error) {
	h.gotSince, h.gotLimit = since, limit
	co2 := int32(700)
	return []models.Reading{{Device: name, CO2: &co2}}, nil
}

func newTestRouter(t *testing.T, ctl *fakeController, hist HistoryReader) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewDeviceHandler(fakeRegistry{devices: map[string]*fakeController{ctl.name: ctl}}, hist, time.Second, nil)
	RegisterDeviceRoutes(r, h, middleware.AuthConfig{}, nil)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDeviceRoutes(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantCall string
	}{
		{"读取快照", http.MethodGet, "/api/devices/office/reading", "", http.StatusOK, ""},
		{"未知设备", http.MethodGet, "/api/devices/nope/reading", "", http.StatusNotFound, ""},
		{"立即轮询", http.MethodPost, "/api/devices/office/poll", "", http.StatusOK, "poll"},
		{"静音", http.MethodPut, "/api/devices/office/mute", `{"mute":true}`, http.StatusOK, "mute"},
		{"静音缺字段", http.MethodPut, "/api/devices/office/mute", `{}`, http.StatusBadRequest, ""},
		{"温度单位", http.MethodPut, "/api/devices/office/temp-unit", `{"unit":"F"}`, http.StatusOK, "temp_unit:F"},
		{"温度单位非法", http.MethodPut, "/api/devices/office/temp-unit", `{"unit":"K"}`, http.StatusBadRequest, ""},
		{"阈值", http.MethodPut, "/api/devices/office/thresholds", `{"low":700,"high":1200}`, http.StatusOK, "thresholds"},
		{"阈值 low>=high", http.MethodPut, "/api/devices/office/thresholds", `{"low":1200,"high":1200}`, http.StatusBadRequest, ""},
		{"阈值空请求", http.MethodPut, "/api/devices/office/thresholds", `{}`, http.StatusBadRequest, ""},
		{"息屏", http.MethodPut, "/api/devices/office/screen-off", `{"minutes":5}`, http.StatusOK, "screen_off"},
		{"同步时间", http.MethodPost, "/api/devices/office/sync-time", "", http.StatusOK, "sync_time"},
		{"Wi-Fi 配网", http.MethodPost, "/api/devices/office/provision/wifi", `{"ssid":"lab","password":"pw"}`, http.StatusOK, "wifi:lab"},
		{"MQTT 配网", http.MethodPost, "/api/devices/office/provision/mqtt", `{"server":"mqtt.example.com","aes_key":"AAAA","aes_iv":"iv"}`, http.StatusOK, "mqtt:mqtt.example.com"},
		{"MQTT 配网缺字段", http.MethodPost, "/api/devices/office/provision/mqtt", `{"server":"x"}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeController{name: "office", reading: device.Reading{CO2: u16(650)}}
			r := newTestRouter(t, ctl, nil)

			w := do(r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCall == "" {
				assert.NotContains(t, ctl.calls, "thresholds")
				return
			}
			assert.Equal(t, []string{tt.wantCall}, ctl.calls)
		})
	}
}

func TestGetReadingBody(t *testing.T) {
	unit := htram.TempUnitCelsius
	ctl := &fakeController{name: "office", reading: device.Reading{CO2: u16(650), TempUnit: &unit}}
	r := newTestRouter(t, ctl, nil)

	w := do(r, http.MethodGet, "/api/devices/office/reading", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Name    string                 `json:"name"`
		Reading map[string]interface{} `json:"reading"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "office", body.Name)
	assert.EqualValues(t, 650, body.Reading["co2"])
	assert.Equal(t, "C", body.Reading["temp_unit"])
	assert.Nil(t, body.Reading["humidity"])
}

func TestListDevices(t *testing.T) {
	ctl := &fakeController{name: "office"}
	r := newTestRouter(t, ctl, nil)

	w := do(r, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"office"`)
	assert.Contains(t, w.Body.String(), `"session":"connected"`)
}

func TestCommandErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"参数校验", &htram.ValidationError{Field: "thresholds", Reason: "x"}, http.StatusBadRequest},
		{"熔断", session.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"链路错误", transport.Wrap("write", errors.New("gatt")), http.StatusBadGateway},
		{"应答超时", exchange.ErrTimeout, http.StatusGatewayTimeout},
		{"轮询超时", &device.CycleError{Kind: device.CycleTimeout, Err: errors.New("x")}, http.StatusGatewayTimeout},
		{"其他", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeController{name: "office", err: tt.err}
			r := newTestRouter(t, ctl, nil)
			w := do(r, http.MethodPut, "/api/devices/office/screen-off", `{"minutes":1}`)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestPollFailureReturnsSnapshot(t *testing.T) {
	ctl := &fakeController{
		name:    "office",
		reading: device.Reading{CO2: u16(900)},
		pollErr: &device.CycleError{Kind: device.CycleTransport, Err: transport.ErrNotConnected},
	}
	r := newTestRouter(t, ctl, nil)

	w := do(r, http.MethodPost, "/api/devices/office/poll", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"co2":900`)
	assert.Contains(t, w.Body.String(), `"error"`)
}

func TestHistory(t *testing.T) {
	t.Run("未启用数据库", func(t *testing.T) {
		r := newTestRouter(t, &fakeController{name: "office"}, nil)
		w := do(r, http.MethodGet, "/api/devices/office/history", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("相对时长与条数", func(t *testing.T) {
		hist := &fakeHistory{}
		r := newTestRouter(t, &fakeController{name: "office"}, hist)
		before := time.Now()
		w := do(r, http.MethodGet, "/api/devices/office/history?since=1h&limit=10", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 10, hist.gotLimit)
		assert.WithinDuration(t, before.Add(-time.Hour), hist.gotSince, 5*time.Second)
		assert.Contains(t, w.Body.String(), `"co2":700`)
	})

	t.Run("非法参数", func(t *testing.T) {
		r := newTestRouter(t, &fakeController{name: "office"}, &fakeHistory{})
		assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/devices/office/history?since=yesterday", "").Code)
		assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/devices/office/history?limit=-1", "").Code)
	})
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{"空", "", time.Time{}, false},
		{"RFC3339", "2026-04-30T00:00:00Z", time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC), false},
		{"相对时长", "30m", now.Add(-30 * time.Minute), false},
		{"负时长", "-1h", time.Time{}, true},
		{"无法解析", "x", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSince(tt.in, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got))
		})
	}
}
