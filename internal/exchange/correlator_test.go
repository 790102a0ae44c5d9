package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/htram-gateway/internal/protocol/htram"
	"github.com/taoyao-code/htram-gateway/internal/transport"
)

var (
	realtimeReply = []byte{0x7B, 0x41, 0x00, 0x0C, 0x41, 0x44, 0x05, 0x00, 0xC8, 0x14, 0x32, 0x03, 0x01, 0xA9, 0x04, 0x7D}
	settingsReply = []byte{0x7B, 0x41, 0x00, 0x0C, 0x41, 0x43, 0x04, 0x03, 0x20, 0x03, 0xE8, 0x00, 0x05, 0x56, 0x10, 0x7D}
	unknownFrame  = []byte{0x7B, 0x41, 0x00, 0x06, 0x55, 0x55, 0x01, 0x86, 0xF0, 0x7D}
)

// scriptConn 写入时同步推送预设的通知分片
type scriptConn struct {
	mu      sync.Mutex
	onWrite func(data []byte) [][]byte
	notify  func([]byte)
	writes  [][]byte
	err     error
}

func (c *scriptConn) Write(_ context.Context, _ uuid.UUID, data []byte, _ bool) error {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	var chunks [][]byte
	if c.onWrite != nil {
		chunks = c.onWrite(data)
	}
	fn := c.notify
	c.mu.Unlock()
	for _, ch := range chunks {
		fn(ch)
	}
	return nil
}

func (c *scriptConn) Subscribe(_ uuid.UUID, fn func([]byte)) error { c.notify = fn; return nil }
func (c *scriptConn) Unsubscribe(uuid.UUID) error                  { c.notify = nil; return nil }
func (c *scriptConn) Disconnect() error                            { return nil }
func (c *scriptConn) IsConnected() bool                            { return true }

func newPair(onWrite func([]byte) [][]byte) (*Correlator, *scriptConn) {
	x := New()
	c := &scriptConn{onWrite: onWrite}
	_ = c.Subscribe(transport.DefaultCharacteristics().Notify, x.HandleNotification)
	return x, c
}

func TestSendAndWait_Reply(t *testing.T) {
	x, c := newPair(func([]byte) [][]byte { return [][]byte{realtimeReply} })

	f, err := x.SendAndWait(context.Background(), c, htram.GetRealtime(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, htram.RespRealtime, f.Command())
	assert.Equal(t, htram.GetRealtime().Frame.Bytes(), c.writes[0])
	assert.False(t, x.Pending(htram.ReplyRealtime))
}

func TestSendAndWait_SplitNotification(t *testing.T) {
	x, c := newPair(func([]byte) [][]byte {
		return [][]byte{realtimeReply[:4], realtimeReply[4:11], realtimeReply[11:]}
	})
	f, err := x.SendAndWait(context.Background(), c, htram.GetRealtime(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, realtimeReply, f.Bytes())
}

func TestSendAndWait_Timeout(t *testing.T) {
	var results []string
	x := New(WithObserver(ObserverFunc(func(kind, result string, _ time.Duration) {
		results = append(results, kind+":"+result)
	})))
	c := &scriptConn{}
	_ = c.Subscribe(uuid.Nil, x.HandleNotification)

	_, err := x.SendAndWait(context.Background(), c, htram.GetRealtime(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, x.Pending(htram.ReplyRealtime), "slot abandoned on timeout")
	assert.Equal(t, []string{"realtime:timeout"}, results)

	// 超时后迟到的应答无人认领
	x.HandleNotification(realtimeReply)
	assert.Equal(t, int64(1), x.Stats().DroppedFrames)
}

func TestSendAndWait_FirstWriterWins(t *testing.T) {
	second := append([]byte(nil), realtimeReply...)
	second[8] = 0xC9 // co2 201，CRC 不再匹配需重算
	second = htram.Encode(htram.RespRealtime, second[6:13]).Bytes()

	x, c := newPair(func([]byte) [][]byte { return [][]byte{realtimeReply, second} })
	f, err := x.SendAndWait(context.Background(), c, htram.GetRealtime(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, realtimeReply, f.Bytes())
	assert.Equal(t, int64(1), x.Stats().DroppedFrames)
}

func TestSendAndWait_IgnoresUnknownAndOtherKinds(t *testing.T) {
	x, c := newPair(func([]byte) [][]byte {
		return [][]byte{unknownFrame, settingsReply, {0x00, 0x11}, realtimeReply}
	})
	f, err := x.SendAndWait(context.Background(), c, htram.GetRealtime(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, htram.RespRealtime, f.Command())
	assert.Equal(t, int64(2), x.Stats().DroppedFrames, "unknown id and unmatched settings reply dropped")
	assert.Equal(t, 2, x.Stats().DroppedBytes, "noise before start byte")
}

func TestHandleNotification_UnmatchedDiscarded(t *testing.T) {
	x := New()
	x.HandleNotification(settingsReply)
	assert.False(t, x.Pending(htram.ReplySettings))
	assert.Equal(t, int64(1), x.Stats().DroppedFrames)

	// 之后的请求不会拿到之前丢弃的帧
	c := &scriptConn{}
	_ = c.Subscribe(uuid.Nil, x.HandleNotification)
	_, err := x.SendAndWait(context.Background(), c, htram.GetSettings(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSendAndWait_WriteError(t *testing.T) {
	x := New()
	c := &scriptConn{err: errors.New("gatt write failed")}

	_, err := x.SendAndWait(context.Background(), c, htram.GetSoundStatus(), time.Second)
	require.Error(t, err)
	assert.True(t, transport.IsTransportError(err))
	assert.False(t, x.Pending(htram.ReplySound))
}

func TestSendAndWait_ContextCanceled(t *testing.T) {
	x := New()
	c := &scriptConn{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := x.SendAndWait(ctx, c, htram.GetRealtime(), time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, x.Pending(htram.ReplyRealtime))
}

func TestSendAndWait_SameKindReplacesSlot(t *testing.T) {
	x := New()
	c := &scriptConn{}
	_ = c.Subscribe(uuid.Nil, x.HandleNotification)

	firstErr := make(chan error, 1)
	go func() {
		_, err := x.SendAndWait(context.Background(), c, htram.GetRealtime(), 100*time.Millisecond)
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.writes) == 1
	}, time.Second, time.Millisecond)

	c.mu.Lock()
	c.onWrite = func([]byte) [][]byte { return [][]byte{realtimeReply} }
	c.mu.Unlock()
	f, err := x.SendAndWait(context.Background(), c, htram.GetRealtime(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, htram.RespRealtime, f.Command())

	assert.ErrorIs(t, <-firstErr, ErrTimeout)
}

func TestSend_FireAndForget(t *testing.T) {
	x, c := newPair(nil)
	require.NoError(t, x.Send(context.Background(), c, htram.Heartbeat()))
	assert.Len(t, c.writes, 1)

	// 无应答命令走 SendAndWait 时立即返回
	f, err := x.SendAndWait(context.Background(), c, htram.SetSound(true), time.Minute)
	require.NoError(t, err)
	assert.True(t, f.IsZero())
}

func TestReset_ClearsSlotsAndPartial(t *testing.T) {
	x := New()
	x.HandleNotification(realtimeReply[:5])
	x.mu.Lock()
	x.slots[htram.ReplySound] = &slot{ch: make(chan htram.Frame, 1)}
	x.mu.Unlock()

	x.Reset()
	assert.False(t, x.Pending(htram.ReplySound))
	x.mu.Lock()
	assert.Equal(t, 0, x.asm.Pending())
	x.mu.Unlock()
}
