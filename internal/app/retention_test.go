package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakePruner struct {
	cutoffs []time.Time
	rows    int64
	err     error
}

func (f *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return f.rows, f.err
}

func TestRetentionCleaner_CleanOnce(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		rows      int64
		err       error
		wantRows  int64
		wantTotal int64
	}{
		{"清理成功", 7, nil, 7, 7},
		{"无过期数据", 0, nil, 0, 0},
		{"清理失败", 0, errors.New("db down"), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakePruner{rows: tt.rows, err: tt.err}
			c := NewRetentionCleaner(repo, 24*time.Hour, zap.NewNop())
			c.now = func() time.Time { return now }

			assert.Equal(t, tt.wantRows, c.CleanOnce(context.Background()))
			assert.Equal(t, []time.Time{now.Add(-24 * time.Hour)}, repo.cutoffs)
			assert.Equal(t, tt.wantTotal, c.Stats()["total_cleaned"])
		})
	}
}

func TestRetentionCleaner_DisabledReturnsImmediately(t *testing.T) {
	repo := &fakePruner{}
	c := NewRetentionCleaner(repo, 0, zap.NewNop())

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled cleaner should not block")
	}
	assert.Empty(t, repo.cutoffs)
}
