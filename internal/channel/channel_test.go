package channel

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pccr10001/trunkie/internal/frame"
	"github.com/pccr10001/trunkie/internal/gsm"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/k3l/sim"
	"github.com/pccr10001/trunkie/internal/lock"
	"github.com/pccr10001/trunkie/internal/mccmnc"
	"github.com/pccr10001/trunkie/internal/pbx"
)

type fakeSession struct {
	id string

	mu       sync.Mutex
	rings    int
	progress int
	answers  int
	digits   []byte
	hangups  []pbx.Cause
	notes    map[string]string
	onHangup func()
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) RingReady() {
	s.mu.Lock()
	s.rings++
	s.mu.Unlock()
}

func (s *fakeSession) Progress() {
	s.mu.Lock()
	s.progress++
	s.mu.Unlock()
}

func (s *fakeSession) Answered() {
	s.mu.Lock()
	s.answers++
	s.mu.Unlock()
}

func (s *fakeSession) Digit(d byte) {
	s.mu.Lock()
	s.digits = append(s.digits, d)
	s.mu.Unlock()
}

func (s *fakeSession) Hangup(cause pbx.Cause) {
	if s.onHangup != nil {
		s.onHangup()
	}
	s.mu.Lock()
	s.hangups = append(s.hangups, cause)
	s.mu.Unlock()
}

func (s *fakeSession) Annotate(key, value string) {
	s.mu.Lock()
	if s.notes == nil {
		s.notes = map[string]string{}
	}
	s.notes[key] = value
	s.mu.Unlock()
}

func (s *fakeSession) causes() []pbx.Cause {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pbx.Cause(nil), s.hangups...)
}

type fakeHost struct {
	mu       sync.Mutex
	sessions []*fakeSession
	infos    []pbx.CallInfo
	err      error
}

func (h *fakeHost) NewSession(info pbx.CallInfo, ch pbx.Channel) (pbx.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	s := &fakeSession{id: fmt.Sprintf("in-%d", len(h.sessions)+1)}
	h.sessions = append(h.sessions, s)
	h.infos = append(h.infos, info)
	return s, nil
}

func (h *fakeHost) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *fakeHost) session(i int) *fakeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[i]
}

type countingObserver struct {
	handled    atomic.Int32
	lockFailed atomic.Int32
	changes    atomic.Int32
	calls      atomic.Int32
	overruns   atomic.Int32
	underruns  atomic.Int32
}

func (o *countingObserver) EventHandled(int, int, k3l.EventCode, error) { o.handled.Add(1) }
func (o *countingObserver) LockFailed(int, int)                         { o.lockFailed.Add(1) }
func (o *countingObserver) StateChanged(Snapshot, State, State)         { o.changes.Add(1) }
func (o *countingObserver) CallStarted(int, int, pbx.Direction)         { o.calls.Add(1) }
func (o *countingObserver) AudioOverrun(int, int)                       { o.overruns.Add(1) }
func (o *countingObserver) AudioUnderrun(int, int)                      { o.underruns.Add(1) }

type testRig struct {
	ch    *Channel
	board *sim.Board
	host  *fakeHost
	obs   *countingObserver
	env   *Env
}

func newRig(t *testing.T, family k3l.Signaling, tweak ...func(*Env)) *testRig {
	t.Helper()
	board := sim.New(k3l.DeviceInfo{Serial: "K0001", Channels: 2, Signaling: family})
	t.Cleanup(func() { _ = board.Close() })
	r := &testRig{board: board, host: &fakeHost{}, obs: &countingObserver{}}
	r.env = &Env{
		API:         board,
		Host:        r.host,
		Observer:    r.obs,
		LockRetries: 3,
		LockDelay:   time.Millisecond,
		Sizing:      frame.NewSizing(20, 16, 10),
		Codec:       frame.ALaw,
		Country:     "brazil",
	}
	for _, fn := range tweak {
		fn(r.env)
	}
	r.ch = New(0, 0, family, r.env)
	return r
}

func (r *testRig) emit(t *testing.T, code k3l.EventCode, addInfo int, params string) error {
	t.Helper()
	return r.ch.HandleEvent(k3l.Event{Code: code, AddInfo: addInfo, Params: params})
}

func (r *testRig) incoming(t *testing.T) *fakeSession {
	t.Helper()
	require.NoError(t, r.emit(t, k3l.EvNewCall, 0, `orig_addr="1001" dest_addr="2002"`))
	return r.host.session(r.host.count() - 1)
}

func TestIncomingCallConnects(t *testing.T) {
	r := newRig(t, k3l.SigE1)

	s := r.incoming(t)
	assert.Equal(t, SeizedIncoming, r.ch.State())
	snap := r.ch.Snapshot()
	assert.Equal(t, "1001", snap.Call.Orig)
	assert.Equal(t, "2002", snap.Call.Dest)
	assert.Equal(t, s.ID(), snap.Call.SessionID)
	assert.Equal(t, pbx.Inbound, r.host.infos[0].Direction)

	require.NoError(t, r.ch.Answer(s.ID()))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmConnect))

	require.NoError(t, r.emit(t, k3l.EvConnect, 0, ""))
	require.NoError(t, r.emit(t, k3l.EvConnect, 0, ""))

	assert.Equal(t, StateReallyConnected, r.ch.State())
	assert.True(t, r.ch.Flags().Has(Connected|ReallyConnected|StreamActive|ListenActive))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmStartListen))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmStartStream))
	assert.Equal(t, 1, s.answers)
	assert.Equal(t, StateReallyConnected.String(), r.ch.Snapshot().Phase)
	assert.NotNil(t, r.ch.Snapshot().Call.AnsweredAt)
}

func TestChannelFailWhileDialing(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	s := &fakeSession{id: "out-1"}
	var sawCallFail bool
	s.onHangup = func() { sawCallFail = r.ch.Flags().Has(HasCallFail) }

	require.NoError(t, r.ch.OnInit(s, "100", "5551234"))
	assert.Equal(t, SeizedOutgoing, r.ch.State())
	assert.False(t, r.ch.Flags().Has(HasCallFail))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmMakeCall))

	require.NoError(t, r.emit(t, k3l.EvChannelFail, 0, ""))

	assert.Equal(t, Idle, r.ch.State())
	assert.Equal(t, Flags(0), r.ch.Flags())
	assert.True(t, sawCallFail)
	assert.Equal(t, []pbx.Cause{pbx.CauseNetworkOutOfOrder}, s.causes())
	assert.Equal(t, pbx.CauseNetworkOutOfOrder, r.ch.LastHangupCause())
	assert.Equal(t, Idle.String(), r.ch.Snapshot().Phase)
}

func TestCleanupIsIdempotent(t *testing.T) {
	r := newRig(t, k3l.SigE1)

	clean := func() Snapshot {
		require.NoError(t, r.ch.withLock("cleanup", func() error {
			r.ch.cleanup()
			return nil
		}))
		s := r.ch.Snapshot()
		s.UpdatedAt = time.Time{}
		return s
	}
	first := clean()
	assert.Equal(t, first, clean())
	assert.Empty(t, r.board.Commands())

	s := r.incoming(t)
	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	assert.Len(t, s.causes(), 1)
	assert.Equal(t, Idle, r.ch.State())
}

func TestSecondNewCallRejected(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	r.incoming(t)

	err := r.emit(t, k3l.EvNewCall, 0, `orig_addr="3003" dest_addr="4004"`)
	assert.ErrorIs(t, err, ErrChannelBusy)
	assert.True(t, IsChannelBusyError(err))
	assert.Equal(t, "1001", r.ch.Snapshot().Call.Orig)
	assert.Equal(t, 1, r.host.count())
}

func TestLockContentionAbortsEvent(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	require.Equal(t, lock.Success, r.ch.lock.TryAcquire())

	err := r.emit(t, k3l.EvNewCall, 0, `orig_addr="1001"`)
	r.ch.lock.Release()

	assert.ErrorIs(t, err, lock.ErrLockFailed)
	assert.Equal(t, Idle, r.ch.State())
	assert.Equal(t, 0, r.host.count())
	assert.Equal(t, int32(1), r.obs.lockFailed.Load())

	r.incoming(t)
	assert.Equal(t, SeizedIncoming, r.ch.State())
}

func TestSessionAllocationFailure(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	r.host.err = errors.New("no capacity")

	err := r.emit(t, k3l.EvNewCall, 0, `orig_addr="1001"`)
	assert.Error(t, err)
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmDisconnect))
	assert.Equal(t, pbx.CauseSwitchCongestion, r.ch.Snapshot().Call.Cause)

	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	assert.Equal(t, Idle, r.ch.State())
	assert.Equal(t, pbx.CauseSwitchCongestion, r.ch.LastHangupCause())
}

func TestCallFailKeepsSeizure(t *testing.T) {
	r := newRig(t, k3l.SigR2)
	s := &fakeSession{id: "out-1"}
	require.NoError(t, r.ch.OnInit(s, "100", "200"))
	require.NoError(t, r.emit(t, k3l.EvCallSuccess, 0, ""))
	assert.Equal(t, 1, s.rings)

	require.NoError(t, r.emit(t, k3l.EvCallFail, 7, ""))

	f := r.ch.Flags()
	assert.Equal(t, SeizedOutgoing, r.ch.State())
	assert.True(t, f.Has(HasCallFail|GenFastBusy))
	assert.False(t, f.Has(GenPBXRing))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmStopCadence))
	assert.Equal(t, pbx.CauseUnallocatedNumber, r.ch.Snapshot().Call.Cause)
	assert.Equal(t, 7, r.ch.Snapshot().Call.Family.R2.Condition)
	assert.Empty(t, s.causes())

	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	assert.Equal(t, []pbx.Cause{pbx.CauseUnallocatedNumber}, s.causes())
}

func TestCallFailUnknownCodeFallsBackToBusy(t *testing.T) {
	r := newRig(t, k3l.SigR2, func(e *Env) { e.Country = "mexico" })
	require.NoError(t, r.ch.OnInit(&fakeSession{id: "out-1"}, "", "200"))

	require.NoError(t, r.emit(t, k3l.EvCallFail, 4, ""))
	assert.Equal(t, pbx.CauseUserBusy, r.ch.Snapshot().Call.Cause)
	assert.True(t, r.ch.Flags().Has(GenBusy))
}

func TestCallFailIgnoredWhenIdle(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	require.NoError(t, r.emit(t, k3l.EvCallFail, 2, ""))
	assert.Equal(t, Flags(0), r.ch.Flags())
}

func TestFailCause(t *testing.T) {
	assert.Equal(t, pbx.CauseUserBusy, FailCause(k3l.SigISDN, "brazil", 17))
	assert.Equal(t, pbx.CauseNoRouteDestination, FailCause(k3l.SigISDN, "brazil", 3))
	assert.Equal(t, FallbackCause, FailCause(k3l.SigISDN, "brazil", 250))
	assert.Equal(t, pbx.CauseNumberChanged, FailCause(k3l.SigR2, "brazil", 3))
	assert.Equal(t, pbx.CauseUserBusy, FailCause(k3l.SigR2, "argentina", 3))
	assert.Equal(t, FallbackCause, FailCause(k3l.SigR2, "mexico", 8))
	assert.Equal(t, pbx.CauseDestinationOutOfOrder, FailCause(k3l.SigR2, "nowhere", 8))
	assert.Equal(t, FallbackCause, FailCause(k3l.SigE1, "brazil", 3))
}

func TestMakeCallFailureReleasesChannel(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	r.board.SetStatus(k3l.CmMakeCall, k3l.StatusBusy)
	s := &fakeSession{id: "out-1"}

	err := r.ch.OnInit(s, "100", "200")
	assert.Equal(t, k3l.StatusBusy, k3l.StatusOf(err))
	assert.Equal(t, Idle, r.ch.State())
	assert.Equal(t, []pbx.Cause{pbx.CauseRequestedChanUnavail}, s.causes())
}

func TestOriginateOnBusyChannel(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	r.incoming(t)

	err := r.ch.OnInit(&fakeSession{id: "out-1"}, "", "200")
	assert.ErrorIs(t, err, ErrChannelBusy)
	assert.Equal(t, 0, r.board.Count(0, 0, k3l.CmMakeCall))
}

func TestAudioStatusStopsPBXRingback(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	require.NoError(t, r.ch.OnInit(&fakeSession{id: "out-1"}, "100", "200"))
	require.True(t, r.ch.Flags().Has(GenPBXRing))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmStartCadence))

	require.NoError(t, r.emit(t, k3l.EvAudioStatus, k3l.AudioSilence, ""))
	assert.True(t, r.ch.Flags().Has(GenPBXRing), "silence changes nothing")
	assert.Equal(t, 0, r.board.Count(0, 0, k3l.CmStopCadence))
	assert.Equal(t, 0, r.board.Count(0, 0, k3l.CmStartListen))

	require.NoError(t, r.emit(t, k3l.EvAudioStatus, k3l.AudioRingback, ""))
	assert.False(t, r.ch.Flags().Has(GenPBXRing))
	assert.True(t, r.ch.Flags().Has(ListenActive))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmStopCadence))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmStartListen))

	require.NoError(t, r.emit(t, k3l.EvAudioStatus, k3l.AudioVoice, ""))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmStopCadence))
}

func TestRoutingStartsTrunkRingback(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	s := r.incoming(t)

	require.NoError(t, r.ch.OnRouting(s.ID()))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmRingback))
	assert.True(t, r.ch.Flags().Has(GenCORing))

	require.NoError(t, r.emit(t, k3l.EvConnect, 0, ""))
	assert.False(t, r.ch.Flags().Has(GenCORing))
}

func TestNoAnswerDisconnects(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	in := r.incoming(t)
	require.NoError(t, r.emit(t, k3l.EvNoAnswer, 0, ""))
	assert.Equal(t, 0, r.board.Count(0, 0, k3l.CmDisconnect), "only outgoing calls time out")
	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	require.Len(t, in.causes(), 1)

	s := &fakeSession{id: "out-1"}
	require.NoError(t, r.ch.OnInit(s, "100", "200"))
	require.NoError(t, r.emit(t, k3l.EvNoAnswer, 0, ""))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmDisconnect))
	assert.Equal(t, pbx.CauseNoAnswer, r.ch.Snapshot().Call.Cause)

	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	assert.Equal(t, []pbx.Cause{pbx.CauseNoAnswer}, s.causes())
	assert.Equal(t, Idle, r.ch.State())
}

func TestPhaseRefusesOutOfOrderSteps(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	r.ch.phase.SetState(StateConnected.String())

	err := r.ch.OnInit(&fakeSession{id: "out-1"}, "100", "200")
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, Idle, r.ch.State())
	assert.Equal(t, 0, r.board.Count(0, 0, k3l.CmMakeCall))

	assert.ErrorIs(t, r.emit(t, k3l.EvNewCall, 0, `orig_addr="1"`), ErrOutOfOrder)
	assert.Equal(t, 0, r.host.count())

	r.ch.phase.SetState(Idle.String())
	r.incoming(t)
	r.ch.phase.SetState(Idle.String())
	assert.ErrorIs(t, r.emit(t, k3l.EvConnect, 0, ""), ErrOutOfOrder)
	assert.Equal(t, SeizedIncoming, r.ch.State())
	assert.Equal(t, 0, r.board.Count(0, 0, k3l.CmStartListen))
}

type queueStub struct {
	mu   sync.Mutex
	reqs []CommandRequest
	full bool
}

func (q *queueStub) EnqueueCommand(req CommandRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.reqs = append(q.reqs, req)
	return true
}

func TestCommandsGoThroughQueue(t *testing.T) {
	q := &queueStub{}
	r := newRig(t, k3l.SigE1, func(e *Env) { e.Commands = q })
	s := &fakeSession{id: "out-1"}

	require.NoError(t, r.ch.OnInit(s, "100", "200"))
	require.Len(t, q.reqs, 1)
	assert.Equal(t, CmdMakeCall, q.reqs[0].Type)
	assert.Equal(t, "out-1", q.reqs[0].SessionID)
	assert.Equal(t, 0, r.board.Count(0, 0, k3l.CmMakeCall))

	require.NoError(t, r.ch.HandleCommand(q.reqs[0]))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmMakeCall))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmStartCadence))
}

func TestFullQueueAbandonsOrigination(t *testing.T) {
	q := &queueStub{full: true}
	r := newRig(t, k3l.SigE1, func(e *Env) { e.Commands = q })
	s := &fakeSession{id: "out-1"}

	err := r.ch.OnInit(s, "100", "200")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, Idle, r.ch.State())
	assert.Empty(t, s.causes())
	assert.Equal(t, pbx.CauseSwitchCongestion, r.ch.LastHangupCause())
}

func TestStaleSessionIgnored(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	s := r.incoming(t)
	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	r.incoming(t)

	err := r.ch.Answer(s.ID())
	assert.ErrorIs(t, err, ErrStaleSession)
	assert.Equal(t, 0, r.board.Count(0, 0, k3l.CmConnect))

	r.ch.OnDestroy(s.ID())
	assert.Equal(t, SeizedIncoming, r.ch.State())
}

// direct routes board callbacks straight to one channel.
type direct struct{ ch *Channel }

func (d direct) OnEvent(ev k3l.Event)          { _ = d.ch.HandleEvent(ev) }
func (d direct) OnAudio(_, _ int, data []byte) { d.ch.OnAudio(data) }

func TestHangupFromPBX(t *testing.T) {
	r := newRig(t, k3l.SigE1, func(e *Env) {
		e.LockRetries = 100
		e.LockDelay = 2 * time.Millisecond
	})
	r.board.Subscribe(direct{r.ch})
	r.board.AutoRespond = true
	s := r.incoming(t)
	require.NoError(t, r.ch.Answer(s.ID()))
	require.Eventually(t, func() bool { return r.ch.State() == StateReallyConnected }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.ch.OnHangup(s.ID(), pbx.CauseNormalClearing))
	require.Eventually(t, func() bool { return r.ch.State() == Idle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []pbx.Cause{pbx.CauseNormalClearing}, s.causes())
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmStopListen))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmStopStream))
	assert.False(t, r.board.Listening(0, 0))
}

func TestDisconnectFromNetwork(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	s := r.incoming(t)
	require.NoError(t, r.emit(t, k3l.EvConnect, 0, ""))

	require.NoError(t, r.emit(t, k3l.EvDisconnect, 0, ""))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmDisconnect))
	assert.Equal(t, StateReallyConnected, r.ch.State())

	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	assert.Equal(t, []pbx.Cause{pbx.CauseNormalClearing}, s.causes())
}

func TestDigitsAndTransfer(t *testing.T) {
	r := newRig(t, k3l.SigR2)
	s := r.incoming(t)

	assert.ErrorIs(t, r.ch.SendDigit(s.ID(), '5'), ErrNoCall)
	require.NoError(t, r.emit(t, k3l.EvConnect, 0, ""))
	require.NoError(t, r.ch.SendDigit(s.ID(), '5'))
	require.NoError(t, r.ch.Transfer(s.ID(), "1234"))

	assert.Equal(t, 2, r.board.Count(0, 0, k3l.CmSendDTMF))
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmFlash))
	assert.Equal(t, "1234", r.ch.Snapshot().Call.TransferDigits)

	require.NoError(t, r.emit(t, k3l.EvDTMFDetected, int('9'), ""))
	assert.Equal(t, []byte{'9'}, s.digits)
}

func TestFamilyTables(t *testing.T) {
	for _, fam := range []k3l.Signaling{k3l.SigE1, k3l.SigISDN, k3l.SigR2, k3l.SigGSM} {
		tbl := tableFor(fam)
		for _, code := range []k3l.EventCode{k3l.EvNewCall, k3l.EvConnect, k3l.EvChannelFree, k3l.EvChannelFail, k3l.EvCallFail} {
			assert.Contains(t, tbl, code, "%s lacks %s", fam, code)
		}
	}
	assert.Contains(t, tableFor(k3l.SigISDN), k3l.EvISDNProgressIndicator)
	assert.Contains(t, tableFor(k3l.SigR2), k3l.EvSeizureStart)
	assert.Contains(t, tableFor(k3l.SigR2), k3l.EvCollectCall)
	assert.Contains(t, tableFor(k3l.SigGSM), k3l.EvSMSData)
	assert.NotContains(t, tableFor(k3l.SigE1), k3l.EvSMSData)
	assert.NotContains(t, tableFor(k3l.SigGSM), k3l.EvISDNProgressIndicator)
}

func TestISDNEarlyMedia(t *testing.T) {
	r := newRig(t, k3l.SigISDN)
	s := &fakeSession{id: "out-1"}
	require.NoError(t, r.ch.OnInit(s, "100", "200"))

	require.NoError(t, r.emit(t, k3l.EvISDNProgressIndicator, k3l.ProgressInbandAvailable, ""))
	f := r.ch.Flags()
	assert.True(t, f.Has(ListenActive))
	assert.False(t, f.Has(GenPBXRing))
	assert.Equal(t, 1, s.progress)
	assert.Equal(t, k3l.ProgressInbandAvailable, r.ch.Snapshot().Call.Family.ISDN.Progress)

	require.NoError(t, r.emit(t, k3l.EvDisconnect, int(pbx.CauseNoUserResponse), ""))
	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	assert.Equal(t, []pbx.Cause{pbx.CauseNoUserResponse}, s.causes())
}

func TestISDNUserInformation(t *testing.T) {
	r := newRig(t, k3l.SigISDN)
	require.NoError(t, r.emit(t, k3l.EvNewCall, 0, `orig_addr="1" dest_addr="2" uui_descriptor="4" uui_data="hello"`))
	isdn := r.ch.Snapshot().Call.Family.ISDN
	assert.Equal(t, 4, isdn.UUIDescriptor)
	assert.Equal(t, "hello", isdn.UUIData)

	require.NoError(t, r.ch.HandleEvent(k3l.Event{Code: k3l.EvUserInformation, Params: `descriptor="5"`, Data: []byte("again")}))
	isdn = r.ch.Snapshot().Call.Family.ISDN
	assert.Equal(t, 5, isdn.UUIDescriptor)
	assert.Equal(t, "again", isdn.UUIData)
}

func TestR2CollectCallDropped(t *testing.T) {
	r := newRig(t, k3l.SigR2, func(e *Env) { e.DropCollectCall = true })

	require.NoError(t, r.emit(t, k3l.EvNewCall, 0, `orig_addr="1" dest_addr="2" category="8"`))
	f := r.ch.Flags()
	assert.True(t, f.Has(CollectCall|DropCollect))
	assert.True(t, r.ch.Snapshot().Call.Collect)
	assert.Equal(t, 8, r.ch.Snapshot().Call.Family.R2.Category)
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmDisconnect))

	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	assert.Equal(t, pbx.CauseCallRejected, r.ch.LastHangupCause())
}

func TestISDNCollectCallKept(t *testing.T) {
	r := newRig(t, k3l.SigISDN)
	r.incoming(t)

	require.NoError(t, r.emit(t, k3l.EvCollectCall, 0, ""))
	assert.True(t, r.ch.Flags().Has(CollectCall))
	assert.False(t, r.ch.Flags().Has(DropCollect))
	assert.Equal(t, 0, r.board.Count(0, 0, k3l.CmDisconnect))
}

func TestAudioPaths(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	pkt := r.env.Sizing.PBXPacket

	// nothing flows before the call is up
	assert.False(t, r.ch.WriteFrame(make([]byte, pkt)))
	assert.Equal(t, frame.Silence(pkt, frame.ALaw), r.ch.ReadFrame())
	assert.Equal(t, int32(0), r.obs.underruns.Load())

	r.incoming(t)
	require.NoError(t, r.emit(t, k3l.EvConnect, 0, ""))

	tap := &countingTap{}
	r.ch.AddTap("meter", tap)

	rx := make([]byte, pkt)
	for i := range rx {
		rx[i] = 0x11
	}
	r.ch.OnAudio(rx)
	assert.Equal(t, rx, r.ch.ReadFrame())
	assert.Equal(t, frame.Silence(pkt, frame.ALaw), r.ch.ReadFrame())
	assert.Equal(t, int32(1), r.obs.underruns.Load())

	tx := make([]byte, pkt)
	for i := range tx {
		tx[i] = 0x22
	}
	require.True(t, r.ch.WriteFrame(tx))
	r.ch.OnAudio(rx)

	var sent []k3l.Command
	for _, c := range r.board.CommandsFor(0, 0) {
		if c.Code == k3l.CmSendStreamBuffer {
			sent = append(sent, c)
		}
	}
	require.Len(t, sent, 1)
	assert.Equal(t, tx[:r.env.Sizing.HWPacket], sent[0].Buffer)

	assert.Equal(t, int32(2), tap.rx.Load())
	assert.Equal(t, int32(1), tap.tx.Load())
	assert.True(t, r.ch.RemoveTap("meter"))
	assert.False(t, r.ch.RemoveTap("meter"))
}

func TestAudioOverrun(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	r.incoming(t)
	require.NoError(t, r.emit(t, k3l.EvConnect, 0, ""))

	pkt := make([]byte, r.env.Sizing.PBXPacket)
	for i := 0; i < r.env.Sizing.ReaderFrames; i++ {
		r.ch.OnAudio(pkt)
	}
	assert.Equal(t, int32(0), r.obs.overruns.Load())
	r.ch.OnAudio(pkt)
	assert.Equal(t, int32(1), r.obs.overruns.Load())
}

func TestConcurrentWriters(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	r.incoming(t)
	require.NoError(t, r.emit(t, k3l.EvConnect, 0, ""))

	pkt := r.env.Sizing.PBXPacket
	var accepted atomic.Int32
	var writers sync.WaitGroup
	for _, fill := range []byte{0x11, 0x22} {
		writers.Add(1)
		go func() {
			defer writers.Done()
			p := make([]byte, pkt)
			for i := range p {
				p[i] = fill
			}
			for range 2000 {
				if r.ch.WriteFrame(p) {
					accepted.Add(1)
				}
			}
		}()
	}

	done := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		rx := make([]byte, pkt)
		for {
			select {
			case <-done:
				return
			default:
			}
			r.ch.OnAudio(rx)
			_ = r.ch.ReadFrame()
		}
	}()
	writers.Wait()
	close(done)
	<-drained

	assert.Positive(t, accepted.Load())
	for _, c := range r.board.CommandsFor(0, 0) {
		if c.Code != k3l.CmSendStreamBuffer {
			continue
		}
		require.Len(t, c.Buffer, r.env.Sizing.HWPacket)
		for _, b := range c.Buffer {
			require.Contains(t, []byte{0x11, 0x22}, b)
		}
	}
}

type countingTap struct {
	rx, tx atomic.Int32
	closed atomic.Bool
}

func (c *countingTap) RX([]byte) { c.rx.Add(1) }
func (c *countingTap) TX([]byte) { c.tx.Add(1) }

func (c *countingTap) Close() error {
	c.closed.Store(true)
	return nil
}

type stubRecorder struct {
	tap *countingTap
}

func (s *stubRecorder) Open(device, object int, sessionID string) (TapCloser, string, error) {
	return s.tap, fmt.Sprintf("B%dC%d-%s.wav", device, object, sessionID), nil
}

func TestRecordingFollowsCall(t *testing.T) {
	rec := &stubRecorder{tap: &countingTap{}}
	r := newRig(t, k3l.SigE1, func(e *Env) { e.Recorder = rec })

	s := r.incoming(t)
	require.NoError(t, r.emit(t, k3l.EvConnect, 0, ""))
	assert.True(t, r.ch.Flags().Has(Recording))
	assert.Equal(t, "B0C0-in-1.wav", s.notes["recording"])

	r.ch.OnAudio(make([]byte, r.env.Sizing.PBXPacket))
	assert.Equal(t, int32(1), rec.tap.rx.Load())

	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	assert.True(t, rec.tap.closed.Load())
	assert.False(t, r.ch.RemoveTap("recording"))
}

type smsSink struct {
	mu       sync.Mutex
	received []gsm.Message
	sent     map[int]error
	operator string
}

func (s *smsSink) SMSReceived(_, _ int, msg gsm.Message) {
	s.mu.Lock()
	s.received = append(s.received, msg)
	s.mu.Unlock()
}

func (s *smsSink) SMSSent(_, _ int, ref int, err error) {
	s.mu.Lock()
	if s.sent == nil {
		s.sent = map[int]error{}
	}
	s.sent[ref] = err
	s.mu.Unlock()
}

func (s *smsSink) OperatorChanged(_ int, operator string) {
	s.mu.Lock()
	s.operator = operator
	s.mu.Unlock()
}

func TestGSMMessages(t *testing.T) {
	sink := &smsSink{}
	r := newRig(t, k3l.SigGSM, func(e *Env) { e.SMS = sink })

	pdu, err := hex.DecodeString("07911326040000F0040B911346610089F60000208062917314080CC8329BFD065DDF72363904")
	require.NoError(t, err)
	require.NoError(t, r.ch.HandleEvent(k3l.Event{Code: k3l.EvSMSData, Data: pdu}))
	require.Len(t, sink.received, 1)
	assert.Equal(t, "How are you?", sink.received[0].Text)

	ref, err := r.ch.SendSMS("+12345", "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, ref)
	assert.Equal(t, 1, r.board.Count(0, 0, k3l.CmSendSMS))
	assert.Equal(t, 1, r.ch.Snapshot().Call.Family.GSM.LastSMSRef)

	require.NoError(t, r.emit(t, k3l.EvSMSSendResult, int(k3l.StatusSuccess), ""))
	assert.Contains(t, sink.sent, 1)
	assert.NoError(t, sink.sent[1])

	require.NoError(t, r.emit(t, k3l.EvSMSSendResult, int(k3l.StatusFail), `ref="2"`))
	assert.Error(t, sink.sent[2])

	mccmnc.Register(mccmnc.NetworkOperator{MCC: "724", MNC: "05", Name: "Claro BR"})
	require.NoError(t, r.emit(t, k3l.EvGSMRegistration, 0, `operator="72405"`))
	assert.Equal(t, "Claro BR", sink.operator)
	assert.Equal(t, "Claro BR", r.ch.Snapshot().Call.Family.GSM.Operator)

	// the operator survives the next call
	r.incoming(t)
	require.NoError(t, r.emit(t, k3l.EvChannelFree, 0, ""))
	assert.Equal(t, "Claro BR", r.ch.Snapshot().Call.Family.GSM.Operator)
}

func TestUnsupportedOperations(t *testing.T) {
	gsmRig := newRig(t, k3l.SigGSM)
	assert.ErrorIs(t, gsmRig.ch.Transfer("x", "1"), ErrUnsupported)

	e1 := newRig(t, k3l.SigE1)
	_, err := e1.ch.SendSMS("+1", "hi")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDestroyedChannelRejectsEvents(t *testing.T) {
	r := newRig(t, k3l.SigE1)
	s := r.incoming(t)

	r.ch.Destroy()
	assert.Equal(t, Idle, r.ch.State())
	assert.Len(t, s.causes(), 1)

	err := r.emit(t, k3l.EvNewCall, 0, "")
	assert.ErrorIs(t, err, lock.ErrLockFailed)
}
