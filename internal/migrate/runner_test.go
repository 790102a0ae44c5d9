package migrate

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverUpMigrations(t *testing.T) {
	tests := []struct {
		name    string
		files   fstest.MapFS
		want    []int64
		wantErr bool
	}{
		{
			name: "按版本排序并忽略非 up 脚本",
			files: fstest.MapFS{
				"0002_b_up.sql":   {Data: []byte("SELECT 2")},
				"0001_a_up.sql":   {Data: []byte("SELECT 1")},
				"0001_a_down.sql": {Data: []byte("SELECT 0")},
				"README.md":       {Data: []byte("x")},
				"abc_up.sql":      {Data: []byte("x")},
			},
			want: []int64{1, 2},
		},
		{
			name: "重复版本报错",
			files: fstest.MapFS{
				"0001_a_up.sql": {Data: []byte("SELECT 1")},
				"0001_b_up.sql": {Data: []byte("SELECT 1")},
			},
			wantErr: true,
		},
		{
			name:  "空目录",
			files: fstest.MapFS{},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := discoverUpMigrations(tt.files)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var versions []int64
			for _, m := range got {
				versions = append(versions, m.Version)
			}
			assert.Equal(t, tt.want, versions)
		})
	}
}

func TestEmbedded(t *testing.T) {
	got, err := discoverUpMigrations(Embedded())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "readings", got[0].Name)
	assert.Equal(t, "poll_events", got[1].Name)

	content, err := fs.ReadFile(Embedded(), got[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "htram_readings")
}
