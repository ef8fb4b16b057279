// Package channel holds the per-channel call state machine. Every mutation of a
// channel's call state happens with its advisory lock held; hardware events, PBX
// commands and audio reach it from different goroutines.
package channel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/pccr10001/trunkie/internal/frame"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/lock"
	"github.com/pccr10001/trunkie/internal/pbx"
	"github.com/pccr10001/trunkie/pkg/logger"
)

type Channel struct {
	device int
	object int
	family k3l.Signaling
	env    *Env
	log    *zap.SugaredLogger
	tag    string

	lock  *lock.Mutex
	table dispatchTable

	// guarded by lock
	flags     flagSet
	phase     *fsm.FSM
	call      CallData
	session   pbx.Session
	recording TapCloser
	lastCause pbx.Cause
	destroyed bool

	// audio path
	audioMu sync.RWMutex // write-held only while the cyclers are cleared
	reader  *frame.Cycler
	writer  *frame.Cycler
	writeMu sync.Mutex // serializes WriteFrame callers; the writer ring has one producer
	tapMu   sync.Mutex // serializes tap list writers
	taps    atomic.Pointer[[]namedTap]
	silence []byte

	snap   atomic.Pointer[Snapshot]
	smsRef atomic.Int32
}

type namedTap struct {
	name string
	tap  Tap
}

// New creates an idle channel. env is shared by every channel of a registry.
func New(device, object int, family k3l.Signaling, env *Env) *Channel {
	env.applyDefaults()
	c := &Channel{
		device: device,
		object: object,
		family: family,
		env:    env,
		log:    logger.ForChannel(device, object),
		tag:    logger.ChannelTag(device, object),
		lock:   &lock.Mutex{},
		table:  tableFor(family),
		reader: env.Sizing.ReaderCycler(),
		writer: env.Sizing.WriterCycler(),
	}
	c.silence = frame.Silence(env.Sizing.PBXPacket, env.Codec)
	c.call.Family = newFamilyData(family)
	c.phase = newPhase(c.onPhaseChange)
	empty := []namedTap{}
	c.taps.Store(&empty)
	c.publish()
	return c
}

func (c *Channel) Address() (int, int) { return c.device, c.object }

func (c *Channel) Device() int { return c.device }

func (c *Channel) Object() int { return c.object }

func (c *Channel) Family() k3l.Signaling { return c.family }

func (c *Channel) String() string { return c.tag }

// Flags is a best-effort read of the current flag word.
func (c *Channel) Flags() Flags { return c.flags.load() }

func (c *Channel) State() State { return StateOf(c.flags.load()) }

// LastHangupCause survives cleanup so the PBX can still report it.
func (c *Channel) LastHangupCause() pbx.Cause {
	return c.Snapshot().LastCause
}

// Snapshot is an unlocked view of a channel, refreshed after every locked operation.
type Snapshot struct {
	Device    int           `json:"device"`
	Object    int           `json:"channel"`
	Family    k3l.Signaling `json:"family"`
	State     State         `json:"-"`
	StateName string        `json:"state"`
	Flags     []string      `json:"flags"`
	Call      CallData      `json:"call"`
	LastCause pbx.Cause     `json:"last_cause"`
	Phase     string        `json:"phase"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (c *Channel) Snapshot() Snapshot {
	return *c.snap.Load()
}

// publish must run with the lock held, or before the channel is shared.
func (c *Channel) publish() {
	f := c.flags.load()
	s := &Snapshot{
		Device:    c.device,
		Object:    c.object,
		Family:    c.family,
		State:     StateOf(f),
		StateName: StateOf(f).String(),
		Flags:     f.Names(),
		Call:      c.call.clone(),
		LastCause: c.lastCause,
		Phase:     c.phase.Current(),
		UpdatedAt: time.Now(),
	}
	c.snap.Store(s)
}

func (c *Channel) onPhaseChange(from, to string) {
	c.log.Debugf("%s phase %s -> %s", c.tag, from, to)
}

// withLock runs fn under the channel lock, bounded by the configured retry budget.
// Exhaustion skips fn and reports lock.ErrLockFailed.
func (c *Channel) withLock(what string, fn func() error) error {
	g, err := lock.Acquire(c.lock, c.env.LockRetries, c.env.LockDelay)
	if err != nil {
		c.env.Observer.LockFailed(c.device, c.object)
		return fmt.Errorf("%s %s: %w", c.tag, what, err)
	}
	defer g.Unlock()

	before := c.flags.load()
	err = fn()
	c.publish()
	if after := c.flags.load(); StateOf(before) != StateOf(after) {
		c.env.Observer.StateChanged(c.Snapshot(), StateOf(before), StateOf(after))
	}
	return err
}

func (c *Channel) idle() bool {
	return !c.flags.load().Any(IsIncoming|IsOutgoing) && c.session == nil
}

// command issues a board command for this channel and logs failures.
func (c *Channel) command(code k3l.CommandCode, params string) error {
	return c.commandBuf(code, params, nil)
}

func (c *Channel) commandBuf(code k3l.CommandCode, params string, buf []byte) error {
	err := k3l.Send(c.env.API, k3l.Command{Device: c.device, Object: c.object, Code: code, Params: params, Buffer: buf})
	if err != nil {
		c.log.Warnf("%s %v", c.tag, err)
	}
	return err
}

// Destroy tears the channel down at board shutdown. The lock is closed so late
// events fail fast instead of waiting out their retries.
func (c *Channel) Destroy() {
	_ = c.withLock("destroy", func() error {
		c.cleanup()
		c.destroyed = true
		return nil
	})
	c.lock.Close()
}
