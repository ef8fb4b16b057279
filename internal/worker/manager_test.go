package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pccr10001/trunkie/internal/board"
	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/frame"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/k3l/sim"
	"github.com/pccr10001/trunkie/internal/pbx"
)

type drops struct {
	events, commands atomic.Int32
}

func (d *drops) EventDropped(int)   { d.events.Add(1) }
func (d *drops) CommandDropped(int) { d.commands.Add(1) }

type hostStub struct {
	mu       sync.Mutex
	sessions []*sessionStub
}

type sessionStub struct {
	id      string
	hangups atomic.Int32
}

func (s *sessionStub) ID() string        { return s.id }
func (s *sessionStub) RingReady()        {}
func (s *sessionStub) Progress()         {}
func (s *sessionStub) Answered()         {}
func (s *sessionStub) Digit(byte)        {}
func (s *sessionStub) Hangup(_ pbx.Cause) { s.hangups.Add(1) }

func (h *hostStub) NewSession(info pbx.CallInfo, ch pbx.Channel) (pbx.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &sessionStub{id: "s" + string(rune('a'+len(h.sessions)))}
	h.sessions = append(h.sessions, s)
	return s, nil
}

type rig struct {
	api *sim.Board
	mgr *Manager
	reg *board.Registry
	d   *drops
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()
	api := sim.New(
		k3l.DeviceInfo{Serial: "K1", Channels: 2, Signaling: k3l.SigE1},
		k3l.DeviceInfo{Serial: "K2", Channels: 2, Signaling: k3l.SigGSM},
	)
	d := &drops{}
	opts.Drops = d
	mgr := NewManager(api, opts)
	env := &channel.Env{
		API:         api,
		Host:        &hostStub{},
		Commands:    mgr,
		LockRetries: 50,
		LockDelay:   time.Millisecond,
		Sizing:      frame.NewSizing(20, 20, 4),
	}
	reg, err := board.New(env)
	require.NoError(t, err)
	require.NoError(t, mgr.Start(reg))
	t.Cleanup(func() {
		mgr.Stop()
		reg.Close()
		_ = api.Close()
	})
	return &rig{api: api, mgr: mgr, reg: reg, d: d}
}

func TestEventsReachChannels(t *testing.T) {
	r := newRig(t, Options{})

	r.api.Emit(k3l.Event{Code: k3l.EvNewCall, Device: 0, Object: 1, Params: `orig_addr="1001" dest_addr="2002"`})
	require.Eventually(t, func() bool {
		s, err := r.mgr.ChannelStatus(0, 1)
		return err == nil && s.State == channel.SeizedIncoming
	}, time.Second, time.Millisecond)

	s, err := r.mgr.ChannelStatus(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "1001", s.Call.Orig)

	idle, err := r.mgr.ChannelStatus(1, 1)
	require.NoError(t, err)
	assert.Equal(t, channel.Idle, idle.State)

	_, err = r.mgr.ChannelStatus(5, 0)
	assert.True(t, IsAddressError(err))
}

func TestCommandsRunOnDeviceWorker(t *testing.T) {
	r := newRig(t, Options{})
	r.api.AutoRespond = true
	ch, err := r.reg.Channel(0, 0)
	require.NoError(t, err)

	s := &sessionStub{id: "out"}
	require.NoError(t, ch.OnInit(s, "100", "200"))
	require.Eventually(t, func() bool { return r.api.Count(0, 0, k3l.CmMakeCall) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, ch.OnHangup("out", pbx.CauseNormalClearing))
	require.Eventually(t, func() bool { return ch.State() == channel.Idle }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), s.hangups.Load())

	stats := r.mgr.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "K1", stats[0].Serial)
	assert.GreaterOrEqual(t, stats[0].Commands.Dispatched, uint64(2))
}

func TestAudioListenerLostReRegisters(t *testing.T) {
	r := newRig(t, Options{})

	r.api.Emit(k3l.Event{Code: k3l.EvAudioListenerLost, Device: 1})
	assert.Equal(t, 1, r.api.Count(1, 0, k3l.CmRegisterAudioListener))

	r.api.Emit(k3l.Event{Code: k3l.EvDeviceFail, Device: 0})
	assert.Equal(t, uint64(0), r.mgr.Stats()[0].Events.Enqueued)
}

func TestUnknownDeviceIgnored(t *testing.T) {
	r := newRig(t, Options{})
	r.api.Emit(k3l.Event{Code: k3l.EvNewCall, Device: 9})
	r.api.Audio(9, 0, []byte{1})
	assert.False(t, r.mgr.EnqueueCommand(channel.CommandRequest{Device: 9}))
	assert.Equal(t, int32(0), r.d.events.Load())
}

func TestFullQueuesCountDrops(t *testing.T) {
	api := sim.New(k3l.DeviceInfo{Serial: "K1", Channels: 1})
	reg, err := board.New(&channel.Env{API: api})
	require.NoError(t, err)
	b, err := reg.Board(0)
	require.NoError(t, err)

	d := &drops{}
	mgr := NewManager(api, Options{EventFifoSize: 2, CommandFifoSize: 2, Drops: d})
	// workers exist but are not running, so nothing drains
	mgr.workers = []*DeviceWorker{NewDeviceWorker(b, mgr.opts)}

	accepted := 0
	for i := 0; i < 3; i++ {
		if mgr.EnqueueCommand(channel.CommandRequest{Type: channel.CmdRelease}) {
			accepted++
		}
		mgr.OnEvent(k3l.Event{Code: k3l.EvChannelFree})
	}
	assert.Equal(t, 2, accepted)
	assert.Equal(t, int32(1), d.commands.Load())
	assert.Equal(t, int32(1), d.events.Load())
	assert.Equal(t, 2, mgr.workers[0].commands.Len())
}

func TestStartTwice(t *testing.T) {
	r := newRig(t, Options{})
	assert.Error(t, r.mgr.Start(r.reg))
}
