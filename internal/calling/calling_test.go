package calling

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/frame"
	"github.com/pccr10001/trunkie/internal/g711"
)

type fakeLine struct {
	mu      sync.Mutex
	taps    map[string]channel.Tap
	written [][]byte
}

func newFakeLine() *fakeLine { return &fakeLine{taps: map[string]channel.Tap{}} }

func (l *fakeLine) AddTap(name string, t channel.Tap) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.taps[name] = t
}

func (l *fakeLine) RemoveTap(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.taps[name]
	delete(l.taps, name)
	return ok
}

func (l *fakeLine) WriteFrame(p []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, append([]byte(nil), p...))
	return true
}

func (l *fakeLine) tapCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.taps)
}

func (l *fakeLine) writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.written)
}

func testConfig() Config {
	return Config{Codec: frame.ALaw, FrameMs: 5}
}

func TestBridgeMixesBothDirections(t *testing.T) {
	b := NewAudioBridge(testConfig(), newFakeLine(), "monitor:B0C0")
	b.RX(g711.Encode(frame.ALaw, []int16{1000, 1000}))
	b.TX(g711.Encode(frame.ALaw, []int16{2000, -1000}))
	b.tick()

	pcm := <-b.CaptureFrames()
	require.Len(t, pcm, 2)
	assert.InDelta(t, 3000, pcm[0], 150)
	assert.InDelta(t, 0, pcm[1], 150)

	// nothing buffered, nothing sent
	b.tick()
	assert.Len(t, b.CaptureFrames(), 0)
}

func TestBridgeStartClose(t *testing.T) {
	line := newFakeLine()
	b := NewAudioBridge(testConfig(), line, "monitor:B0C0")
	b.Start()
	assert.Equal(t, 1, line.tapCount())

	b.RX([]byte{0xD5, 0xD5})
	select {
	case pcm := <-b.CaptureFrames():
		assert.Len(t, pcm, 2)
	case <-time.After(time.Second):
		t.Fatal("no frame")
	}

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 0, line.tapCount())
	_, open := <-b.CaptureFrames()
	assert.False(t, open)
}

func TestBridgeTalkWritesWholeFrames(t *testing.T) {
	cfg := testConfig()
	line := newFakeLine()
	b := NewAudioBridge(cfg, line, "monitor:B0C1")
	b.Start()
	defer b.Close()

	// ignored while talk is off
	b.PushFromWebRTC(make([]int16, cfg.FrameBytes()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, line.writes())

	b.SetTalk(true)
	assert.True(t, b.Talking())
	b.PushFromWebRTC(make([]int16, cfg.FrameBytes()+3))
	require.Eventually(t, func() bool { return line.writes() == 1 }, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	line.mu.Lock()
	defer line.mu.Unlock()
	assert.Len(t, line.written, 1)
	assert.Len(t, line.written[0], cfg.FrameBytes())
	assert.Equal(t, frame.ALaw.SilenceByte(), line.written[0][0])
}

func TestManagerSessions(t *testing.T) {
	line := newFakeLine()
	m, err := NewManager(testConfig(), func(device, object int) (Line, error) {
		if device != 0 {
			return nil, errors.New("invalid device")
		}
		return line, nil
	})
	require.NoError(t, err)

	_, err = m.EnsureSession(Target{Device: 3})
	assert.Error(t, err)

	target := Target{Device: 0, Object: 2}
	assert.ErrorIs(t, m.EnsureAudio(target), ErrNoSession)

	s, err := m.EnsureSession(target)
	require.NoError(t, err)
	again, err := m.EnsureSession(target)
	require.NoError(t, err)
	assert.Same(t, s, again)

	require.NoError(t, m.EnsureAudio(target))
	assert.Equal(t, 1, line.tapCount())
	require.NoError(t, m.SetTalk(target, true))
	assert.False(t, m.IsConnected(target))
	infos := m.Sessions()
	require.Len(t, infos, 1)
	assert.Equal(t, target, infos[0].Target)
	assert.True(t, infos[0].Audio)
	assert.True(t, infos[0].Talking)
	assert.False(t, infos[0].Connected)

	require.NoError(t, m.CloseAll())
	assert.Nil(t, m.GetSession(target))
	assert.Equal(t, 0, line.tapCount())
	assert.ErrorIs(t, m.SetTalk(target, false), ErrAudioNotStarted)
	assert.ErrorIs(t, m.EnsureAudio(target), ErrNoSession)
}

func TestParseSignalMessage(t *testing.T) {
	msg, err := ParseSignalMessage([]byte(`{"type":"talk","talk":true}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Talk)
	assert.True(t, *msg.Talk)

	msg, err = ParseSignalMessage([]byte(`{"type":"hangup"}`))
	require.NoError(t, err)
	assert.Equal(t, SignalHangup, msg.Type)

	for _, raw := range []string{
		`{"text":"x"}`,
		`{`,
		`{"type":"offer"}`,
		`{"type":"candidate"}`,
		`{"type":"talk"}`,
		`{"type":"dance"}`,
	} {
		_, err := ParseSignalMessage([]byte(raw))
		assert.ErrorIs(t, err, ErrBadSignal, raw)
	}
}

func TestRTPStreamNumbering(t *testing.T) {
	s := rtpStream{ssrc: 7, seq: 65535}
	first := s.next(8, make([]byte, 160))
	second := s.next(8, make([]byte, 160))

	assert.Equal(t, uint16(65535), first.SequenceNumber)
	assert.Equal(t, uint16(0), second.SequenceNumber)
	assert.Equal(t, uint32(0), first.Timestamp)
	assert.Equal(t, uint32(160), second.Timestamp)
	assert.Equal(t, uint32(7), second.SSRC)
	assert.Equal(t, uint8(8), second.PayloadType)
}

func TestCodecFor(t *testing.T) {
	c, pt := codecFor(frame.ULaw)
	assert.Equal(t, "audio/PCMU", c.MimeType)
	assert.Equal(t, uint8(0), pt)
	c, pt = codecFor(frame.ALaw)
	assert.Equal(t, "audio/PCMA", c.MimeType)
	assert.Equal(t, uint8(8), pt)
}
