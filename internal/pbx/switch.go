package pbx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pccr10001/trunkie/internal/model"
	"github.com/pccr10001/trunkie/pkg/logger"
)

var (
	ErrCallNotFound = errors.New("call not found")
)

// MediaMode selects what the built-in switch does with answered audio.
type MediaMode string

const (
	MediaEcho    MediaMode = "echo"    // loop the caller's audio back
	MediaSilence MediaMode = "silence" // drain the trunk audio, send nothing
)

// CDRStore persists finished calls.
type CDRStore interface {
	Create(rec *model.CallRecord) error
}

type SwitchOptions struct {
	AutoAnswer  bool
	AnswerDelay time.Duration
	Media       MediaMode
	Interval    time.Duration // media tick, one PBX packet per tick
	SerialOf    func(device int) string
	OnEnd       func(rec *model.CallRecord)
}

// Switch is a minimal PBX host: it owns sessions, answers inbound calls, runs a
// media loop per answered call and writes a call record when a call ends.
type Switch struct {
	opts  SwitchOptions
	store CDRStore
	log   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	goMu   sync.Mutex // orders wg.Add against Close
	closed bool

	mu    sync.Mutex
	calls map[string]*call
}

func NewSwitch(store CDRStore, opts SwitchOptions) *Switch {
	if opts.Interval <= 0 {
		opts.Interval = 20 * time.Millisecond
	}
	if opts.Media == "" {
		opts.Media = MediaEcho
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Switch{
		opts:   opts,
		store:  store,
		log:    logger.Named("switch"),
		ctx:    ctx,
		cancel: cancel,
		calls:  make(map[string]*call),
	}
}

// CallView is a read-only description of an active call.
type CallView struct {
	ID         string     `json:"id"`
	Device     int        `json:"device"`
	Channel    int        `json:"channel"`
	Direction  string     `json:"direction"`
	Orig       string     `json:"orig"`
	Dest       string     `json:"dest"`
	StartedAt  time.Time  `json:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	Digits     string     `json:"digits,omitempty"`
}

type call struct {
	sw      *Switch
	id      string
	info    CallInfo
	ch      Channel
	started time.Time

	mu       sync.Mutex
	answered *time.Time
	digits   []byte
	notes    map[string]string

	done    chan struct{}
	endOnce sync.Once
}

// NewSession implements Host for calls arriving from the trunk.
func (s *Switch) NewSession(info CallInfo, ch Channel) (Session, error) {
	if s.ctx.Err() != nil {
		return nil, errors.New("switch is closed")
	}
	c := s.register(info, ch)
	s.log.Infof("[%s] %s call %q -> %q on B%dC%d", c.id, info.Direction, info.Orig, info.Dest, info.Device, info.Object)

	if s.opts.AutoAnswer && info.Direction == Inbound {
		s.spawn(func() { s.autoAnswer(c) })
	}
	return c, nil
}

// Originate places an outbound call on ch and returns the session ID.
func (s *Switch) Originate(ch Channel, orig, dest string) (string, error) {
	dev, obj := ch.Address()
	c := s.register(CallInfo{Device: dev, Object: obj, Direction: Outbound, Orig: orig, Dest: dest}, ch)
	if err := ch.OnInit(c, orig, dest); err != nil {
		// A failed dial may already have hung the session up; end is idempotent.
		c.end(CauseSwitchCongestion, false)
		return "", err
	}
	return c.id, nil
}

func (s *Switch) register(info CallInfo, ch Channel) *call {
	c := &call{
		sw:      s,
		id:      uuid.NewString(),
		info:    info,
		ch:      ch,
		started: time.Now(),
		notes:   map[string]string{},
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.calls[c.id] = c
	s.mu.Unlock()
	return c
}

func (s *Switch) lookup(id string) (*call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrCallNotFound)
	}
	return c, nil
}

func (s *Switch) Answer(id string) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	return c.ch.Answer(id)
}

func (s *Switch) Hangup(id string, cause Cause) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	return c.ch.OnHangup(id, cause)
}

func (s *Switch) SendDigits(id, digits string) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	for i := 0; i < len(digits); i++ {
		if err := c.ch.SendDigit(id, digits[i]); err != nil {
			return err
		}
	}
	return nil
}

type transferer interface {
	Transfer(sessionID, digits string) error
}

// Transfer asks the trunk to transfer the call, on signalings that support it.
func (s *Switch) Transfer(id, digits string) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	t, ok := c.ch.(transferer)
	if !ok {
		return fmt.Errorf("%s: channel cannot transfer", id)
	}
	return t.Transfer(id, digits)
}

// Calls lists active calls.
func (s *Switch) Calls() []CallView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallView, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.view())
	}
	return out
}

// Close stops media loops and pending answers. Calls ending afterwards still get
// their record, written synchronously.
func (s *Switch) Close() {
	s.goMu.Lock()
	s.closed = true
	s.goMu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// spawn runs fn on a tracked goroutine. It reports false once Close has begun.
func (s *Switch) spawn(fn func()) bool {
	s.goMu.Lock()
	defer s.goMu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Switch) autoAnswer(c *call) {
	if err := c.ch.OnRouting(c.id); err != nil {
		s.log.Warnf("[%s] Routing failed: %v", c.id, err)
		return
	}
	select {
	case <-c.done:
		return
	case <-s.ctx.Done():
		return
	case <-time.After(s.opts.AnswerDelay):
	}
	if err := c.ch.Answer(c.id); err != nil {
		s.log.Warnf("[%s] Answer failed: %v", c.id, err)
	}
}

func (s *Switch) media(c *call) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			p := c.ch.ReadFrame()
			if s.opts.Media == MediaEcho {
				c.ch.WriteFrame(p)
			}
		}
	}
}

func (s *Switch) finish(c *call, cause Cause, notify bool) {
	s.mu.Lock()
	delete(s.calls, c.id)
	s.mu.Unlock()

	rec := c.record(cause)
	if s.store != nil {
		if err := s.store.Create(rec); err != nil {
			s.log.Errorf("[%s] Failed to save call record: %v", c.id, err)
		}
	}
	if s.opts.OnEnd != nil {
		s.opts.OnEnd(rec)
	}
	if notify {
		c.ch.OnDestroy(c.id)
	}
	s.log.Infof("[%s] Call ended: %s after %s", c.id, cause, rec.Duration())
}

// Session side. These run under the channel lock and must not call back into it
// synchronously.

func (c *call) ID() string { return c.id }

func (c *call) RingReady() {
	c.sw.log.Debugf("[%s] Ringing", c.id)
}

func (c *call) Progress() {
	c.sw.log.Debugf("[%s] Early media", c.id)
}

func (c *call) Answered() {
	c.mu.Lock()
	if c.answered != nil {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	c.answered = &now
	c.mu.Unlock()

	c.sw.log.Infof("[%s] Answered", c.id)
	c.sw.spawn(func() { c.sw.media(c) })
}

func (c *call) Digit(d byte) {
	c.mu.Lock()
	c.digits = append(c.digits, d)
	c.mu.Unlock()
}

func (c *call) Hangup(cause Cause) {
	c.end(cause, true)
}

func (c *call) Annotate(key, value string) {
	c.mu.Lock()
	c.notes[key] = value
	c.mu.Unlock()
}

func (c *call) end(cause Cause, notify bool) {
	c.endOnce.Do(func() {
		close(c.done)
		if !c.sw.spawn(func() { c.sw.finish(c, cause, notify) }) {
			// the channel may be holding its lock, so it is not called back
			c.sw.finish(c, cause, false)
		}
	})
}

func (c *call) view() CallView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CallView{
		ID:         c.id,
		Device:     c.info.Device,
		Channel:    c.info.Object,
		Direction:  c.info.Direction.String(),
		Orig:       c.info.Orig,
		Dest:       c.info.Dest,
		StartedAt:  c.started,
		AnsweredAt: c.answered,
		Digits:     string(c.digits),
	}
}

func (c *call) record(cause Cause) *model.CallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := &model.CallRecord{
		SessionID:  c.id,
		Device:     c.info.Device,
		Channel:    c.info.Object,
		Direction:  c.info.Direction.String(),
		Orig:       c.info.Orig,
		Dest:       c.info.Dest,
		StartedAt:  c.started,
		AnsweredAt: c.answered,
		EndedAt:    time.Now(),
		Cause:      int(cause),
		CauseName:  cause.String(),
		Recording:  c.notes["recording"],
	}
	if c.sw.opts.SerialOf != nil {
		rec.BoardSerial = c.sw.opts.SerialOf(c.info.Device)
	}
	return rec
}
