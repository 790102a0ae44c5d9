package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "htram.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
devices:
  - name: office
    address: "C4:7C:8D:6A:11:22"
    pollInterval: 30s
  - name: bedroom
engine:
  settle: 200ms
session:
  connectAttempts: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "office", cfg.Devices[0].Name)
	assert.Equal(t, 30*time.Second, cfg.Devices[0].PollInterval)
	assert.Equal(t, DefaultPollInterval, cfg.Devices[1].PollInterval)

	assert.Equal(t, 200*time.Millisecond, cfg.Engine.Settle)
	assert.Equal(t, 5*time.Second, cfg.Engine.RealtimeTimeout)
	assert.Equal(t, 30*time.Second, cfg.Engine.CycleTimeout)
	assert.Equal(t, "buypass", cfg.Engine.CRCVariant)
	assert.Equal(t, []string{"buypass", "xmodem"}, cfg.Engine.AcceptVariants)
	assert.True(t, cfg.Engine.VerifyChecksum)

	assert.Equal(t, 5, cfg.Session.ConnectAttempts)
	assert.Equal(t, 0.5, cfg.Session.ReconnectRate)
	assert.Equal(t, "F833D6C0-6E0B-11E4-9136-0002A5D5C51B", cfg.BLE.NotifyUUID)
	assert.Equal(t, "htram:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "app:\n  name: from-file\n")
	t.Setenv("HTRAM_APP_NAME", "from-env")
	t.Setenv("HTRAM_ENGINE_SETTLE", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.App.Name)
	assert.Equal(t, time.Second, cfg.Engine.Settle)
}

func TestLoad_Validate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"缺少设备名", "devices:\n  - address: AA\n"},
		{"设备名重复", "devices:\n  - name: a\n  - name: a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err, "explicit path must exist")
}
