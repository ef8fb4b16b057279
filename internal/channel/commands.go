package channel

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pccr10001/trunkie/internal/gsm"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/pbx"
)

type CommandType int

const (
	CmdMakeCall CommandType = iota
	CmdRingback
	CmdAnswer
	CmdHangup
	CmdRelease
	CmdDigit
	CmdTransfer
	CmdSMS
)

var commandTypeNames = [...]string{"make_call", "ringback", "answer", "hangup", "release", "digit", "transfer", "sms"}

func (t CommandType) String() string {
	if int(t) < len(commandTypeNames) {
		return commandTypeNames[t]
	}
	return "command(" + strconv.Itoa(int(t)) + ")"
}

// CommandRequest is a PBX request waiting on a device's command FIFO.
type CommandRequest struct {
	Type      CommandType
	Device    int
	Object    int
	SessionID string
	Cause     pbx.Cause
	Digits    string
	To        string
	Text      string
	Ref       int
}

func (r CommandRequest) String() string {
	return fmt.Sprintf("%s B%dC%d session=%s", r.Type, r.Device, r.Object, r.SessionID)
}

func (c *Channel) request(t CommandType, sessionID string) CommandRequest {
	return CommandRequest{Type: t, Device: c.device, Object: c.object, SessionID: sessionID}
}

func (c *Channel) enqueue(req CommandRequest) error {
	if c.env.Commands == nil {
		return c.HandleCommand(req)
	}
	if !c.env.Commands.EnqueueCommand(req) {
		return fmt.Errorf("%s %s: %w", c.tag, req.Type, ErrQueueFull)
	}
	return nil
}

// OnInit seizes the channel for an outbound call owned by s and queues the dial.
func (c *Channel) OnInit(s pbx.Session, orig, dest string) error {
	err := c.withLock("init", func() error {
		if !c.idle() {
			return fmt.Errorf("%s originate: %w", c.tag, ErrChannelBusy)
		}
		if err := guard(c.phase, evSeizeOut); err != nil {
			return fmt.Errorf("%s originate: %w", c.tag, err)
		}
		c.call.reset()
		c.call.SessionID = s.ID()
		c.call.Orig = orig
		c.call.Dest = dest
		c.call.StartedAt = time.Now()
		c.session = s
		c.flags.set(IsOutgoing | GenPBXRing)
		if err := step(c.phase, evSeizeOut); err != nil {
			c.log.Warnf("%s phase: %v", c.tag, err)
		}
		c.env.Observer.CallStarted(c.device, c.object, pbx.Outbound)
		return nil
	})
	if err != nil {
		return err
	}
	c.log.Infof("%s Dialing %q as %q", c.tag, dest, orig)

	req := c.request(CmdMakeCall, s.ID())
	req.Digits = dest
	if err := c.enqueue(req); err != nil {
		if IsQueueFullError(err) {
			c.abandon(s.ID(), pbx.CauseSwitchCongestion)
		}
		return err
	}
	return nil
}

// abandon drops a call whose setup could not be queued. The session already knows
// from the returned error, so it is detached before cleanup.
func (c *Channel) abandon(sessionID string, cause pbx.Cause) {
	_ = c.withLock("abandon", func() error {
		if c.call.SessionID != sessionID {
			return nil
		}
		c.session = nil
		c.call.Cause = cause
		c.cleanup()
		return nil
	})
}

// OnRouting tells the trunk the incoming call reached its destination.
func (c *Channel) OnRouting(sessionID string) error {
	return c.enqueue(c.request(CmdRingback, sessionID))
}

func (c *Channel) Answer(sessionID string) error {
	return c.enqueue(c.request(CmdAnswer, sessionID))
}

// OnHangup asks the board to clear the call with cause.
func (c *Channel) OnHangup(sessionID string, cause pbx.Cause) error {
	req := c.request(CmdHangup, sessionID)
	req.Cause = cause
	return c.enqueue(req)
}

// OnDestroy drops the session reference once the PBX has finished with it.
func (c *Channel) OnDestroy(sessionID string) {
	if err := c.enqueue(c.request(CmdRelease, sessionID)); err != nil {
		c.log.Warnf("%s release: %v", c.tag, err)
	}
}

func (c *Channel) SendDigit(sessionID string, d byte) error {
	req := c.request(CmdDigit, sessionID)
	req.Digits = string(d)
	return c.enqueue(req)
}

// Transfer flashes the line and dials digits. Only CAS lines support it.
func (c *Channel) Transfer(sessionID, digits string) error {
	if c.family != k3l.SigE1 && c.family != k3l.SigR2 {
		return fmt.Errorf("%s transfer on %s: %w", c.tag, c.family, ErrUnsupported)
	}
	req := c.request(CmdTransfer, sessionID)
	req.Digits = digits
	return c.enqueue(req)
}

// SendSMS queues a text message on a GSM channel and returns its reference.
func (c *Channel) SendSMS(to, text string) (int, error) {
	if c.family != k3l.SigGSM {
		return 0, fmt.Errorf("%s sms on %s: %w", c.tag, c.family, ErrUnsupported)
	}
	req := c.request(CmdSMS, "")
	req.To = to
	req.Text = text
	req.Ref = int(c.smsRef.Add(1))
	return req.Ref, c.enqueue(req)
}

// HandleCommand runs a queued request under the channel lock. Requests for a
// session that no longer owns the channel are rejected with ErrStaleSession.
func (c *Channel) HandleCommand(req CommandRequest) error {
	return c.withLock(req.Type.String(), func() error {
		if c.destroyed {
			return ErrDestroyed
		}
		if req.SessionID != "" && req.SessionID != c.call.SessionID {
			if req.Type == CmdRelease {
				// cleanup already dropped it
				return nil
			}
			return fmt.Errorf("%s %s: %w", c.tag, req.Type, ErrStaleSession)
		}
		switch req.Type {
		case CmdMakeCall:
			return c.doMakeCall()
		case CmdRingback:
			return c.doRingback()
		case CmdAnswer:
			return c.doAnswer()
		case CmdHangup:
			return c.doHangup(req.Cause)
		case CmdRelease:
			return c.doRelease()
		case CmdDigit:
			return c.doDigits(req.Digits)
		case CmdTransfer:
			return c.doTransfer(req.Digits)
		case CmdSMS:
			return c.doSMS(req)
		}
		return fmt.Errorf("%s unknown command %s", c.tag, req.Type)
	})
}

func (c *Channel) doMakeCall() error {
	if c.State() != SeizedOutgoing {
		return fmt.Errorf("%s dial: %w", c.tag, ErrNoCall)
	}
	params := k3l.NewParams("dest_addr", c.call.Dest, "orig_addr", c.call.Orig)
	if err := c.command(k3l.CmMakeCall, params.String()); err != nil {
		c.call.Cause = StatusCause(k3l.StatusOf(err))
		c.cleanup()
		return err
	}
	if c.flags.has(GenPBXRing) {
		c.startCadence("ringback")
	}
	return nil
}

func (c *Channel) doRingback() error {
	if c.State() != SeizedIncoming {
		return fmt.Errorf("%s ringback: %w", c.tag, ErrNoCall)
	}
	if err := c.command(k3l.CmRingback, ""); err != nil {
		return err
	}
	c.flags.set(GenCORing)
	return nil
}

func (c *Channel) doAnswer() error {
	f := c.flags.load()
	if !f.Has(IsIncoming) {
		return fmt.Errorf("%s answer: %w", c.tag, ErrNoCall)
	}
	if f.Has(Connected) {
		return nil
	}
	return c.command(k3l.CmConnect, "")
}

func (c *Channel) doHangup(cause pbx.Cause) error {
	if c.idle() {
		return nil
	}
	if c.call.Cause == pbx.CauseUnspecified {
		c.call.Cause = cause
	}
	if c.call.Cause == pbx.CauseUnspecified {
		c.call.Cause = pbx.CauseNormalClearing
	}
	if !c.flags.load().Any(IsIncoming | IsOutgoing) {
		// Only the session is left; nothing to clear on the line.
		c.cleanup()
		return nil
	}
	params := k3l.NewParams("cause", strconv.Itoa(int(c.call.Cause)))
	return c.command(k3l.CmDisconnect, params.String())
}

func (c *Channel) doRelease() error {
	if c.session == nil {
		return nil
	}
	c.session = nil
	if c.flags.load() == 0 {
		c.call.reset()
		return nil
	}
	return c.command(k3l.CmDisconnect, "")
}

func (c *Channel) doDigits(digits string) error {
	if !c.flags.has(Connected) {
		return fmt.Errorf("%s digits: %w", c.tag, ErrNoCall)
	}
	return c.command(k3l.CmSendDTMF, k3l.NewParams("digits", digits).String())
}

func (c *Channel) doTransfer(digits string) error {
	if !c.flags.has(Connected) {
		return fmt.Errorf("%s transfer: %w", c.tag, ErrNoCall)
	}
	c.call.TransferDigits = digits
	if err := c.command(k3l.CmFlash, ""); err != nil {
		return err
	}
	return c.command(k3l.CmSendDTMF, k3l.NewParams("digits", digits).String())
}

func (c *Channel) doSMS(req CommandRequest) error {
	pdus, err := gsm.Encode(req.To, req.Text)
	if err != nil {
		c.smsSent(req.Ref, err)
		return err
	}
	c.call.Family.GSM.LastSMSRef = req.Ref
	for i, pdu := range pdus {
		params := k3l.NewParams(
			"ref", strconv.Itoa(req.Ref),
			"part", strconv.Itoa(i+1),
			"total", strconv.Itoa(len(pdus)),
		)
		if err := c.commandBuf(k3l.CmSendSMS, params.String(), pdu); err != nil {
			c.smsSent(req.Ref, err)
			return err
		}
	}
	return nil
}

func (c *Channel) smsSent(ref int, err error) {
	if c.env.SMS != nil {
		c.env.SMS.SMSSent(c.device, c.object, ref, err)
	}
}
