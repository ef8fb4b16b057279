package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pccr10001/trunkie/internal/k3l"
)

type recorder struct {
	mu     sync.Mutex
	events []k3l.Event
	audio  int
}

func (r *recorder) OnEvent(ev k3l.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnAudio(int, int, []byte) {
	r.mu.Lock()
	r.audio++
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]k3l.Event, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]k3l.Event(nil), r.events...), r.audio
}

func TestBoardRecordsCommands(t *testing.T) {
	b := New(k3l.DeviceInfo{Channels: 2, Signaling: k3l.SigISDN})
	defer b.Close()

	assert.Equal(t, k3l.StatusSuccess, b.SendCommand(k3l.Command{Device: 0, Object: 1, Code: k3l.CmConnect}))
	assert.Equal(t, k3l.StatusNotFound, b.SendCommand(k3l.Command{Device: 3, Code: k3l.CmConnect}))

	b.SetStatus(k3l.CmMakeCall, k3l.StatusBusy)
	assert.Equal(t, k3l.StatusBusy, b.SendCommand(k3l.Command{Code: k3l.CmMakeCall}))

	assert.Len(t, b.Commands(), 3)
	assert.Equal(t, 1, b.Count(0, 1, k3l.CmConnect))
}

func TestBoardAutoRespond(t *testing.T) {
	b := New(k3l.DeviceInfo{Channels: 1})
	defer b.Close()
	b.AutoRespond = true
	rec := &recorder{}
	b.Subscribe(rec)

	b.SendCommand(k3l.Command{Code: k3l.CmDisconnect})
	require.Eventually(t, func() bool {
		evs, _ := rec.snapshot()
		return len(evs) == 1
	}, time.Second, time.Millisecond)
	evs, _ := rec.snapshot()
	assert.Equal(t, k3l.EvChannelFree, evs[0].Code)
}

func TestBoardAudioClock(t *testing.T) {
	b := New(k3l.DeviceInfo{Channels: 2})
	rec := &recorder{}
	b.Subscribe(rec)

	b.SendCommand(k3l.Command{Object: 1, Code: k3l.CmStartListen})
	assert.True(t, b.Listening(0, 1))
	b.StartAudioClock(time.Millisecond, 8)

	require.Eventually(t, func() bool {
		_, n := rec.snapshot()
		return n >= 3
	}, time.Second, time.Millisecond)
	require.NoError(t, b.Close())

	b.SendCommand(k3l.Command{Object: 1, Code: k3l.CmStopListen})
	assert.False(t, b.Listening(0, 1))
}
