package channel

import (
	"fmt"
	"time"

	"github.com/pccr10001/trunkie/internal/gsm"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/mccmnc"
	"github.com/pccr10001/trunkie/internal/pbx"
)

type eventHandler func(c *Channel, ev k3l.Event) error

type dispatchTable map[k3l.EventCode]eventHandler

// r2CollectCategory is the calling party category of a collect call.
const r2CollectCategory = 8

var tables = map[k3l.Signaling]dispatchTable{
	k3l.SigE1:   e1Table(),
	k3l.SigISDN: isdnTable(),
	k3l.SigR2:   r2Table(),
	k3l.SigGSM:  gsmTable(),
}

func tableFor(f k3l.Signaling) dispatchTable {
	if t, ok := tables[f]; ok {
		return t
	}
	return genericTable()
}

func genericTable() dispatchTable {
	return dispatchTable{
		k3l.EvNewCall:      (*Channel).onNewCall,
		k3l.EvCallSuccess:  (*Channel).onCallSuccess,
		k3l.EvConnect:      (*Channel).onConnect,
		k3l.EvAudioStatus:  (*Channel).onAudioStatus,
		k3l.EvDisconnect:   (*Channel).onDisconnect,
		k3l.EvChannelFree:  (*Channel).onChannelFree,
		k3l.EvChannelFail:  (*Channel).onChannelFail,
		k3l.EvCallFail:     (*Channel).onCallFail,
		k3l.EvNoAnswer:     (*Channel).onNoAnswer,
		k3l.EvDTMFDetected: (*Channel).onDTMF,
	}
}

// extend copies base and overrides it with family entries. Overrides that need
// the generic behavior call it themselves.
func extend(base dispatchTable, family dispatchTable) dispatchTable {
	out := make(dispatchTable, len(base)+len(family))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range family {
		out[k] = v
	}
	return out
}

func e1Table() dispatchTable {
	return extend(genericTable(), dispatchTable{
		k3l.EvSeizureStart: (*Channel).onSeizureStart,
	})
}

func isdnTable() dispatchTable {
	return extend(genericTable(), dispatchTable{
		k3l.EvNewCall:               (*Channel).isdnNewCall,
		k3l.EvISDNProgressIndicator: (*Channel).isdnProgress,
		k3l.EvUserInformation:       (*Channel).isdnUserInformation,
		k3l.EvDisconnect:            (*Channel).isdnDisconnect,
		k3l.EvCallFail:              (*Channel).isdnCallFail,
		k3l.EvCollectCall:           (*Channel).onCollectCall,
	})
}

func r2Table() dispatchTable {
	return extend(e1Table(), dispatchTable{
		k3l.EvNewCall:     (*Channel).r2NewCall,
		k3l.EvCallFail:    (*Channel).r2CallFail,
		k3l.EvCollectCall: (*Channel).onCollectCall,
	})
}

func gsmTable() dispatchTable {
	return extend(genericTable(), dispatchTable{
		k3l.EvNewSMS:          (*Channel).gsmNewSMS,
		k3l.EvSMSInfo:         (*Channel).gsmSMSInfo,
		k3l.EvSMSData:         (*Channel).gsmSMSData,
		k3l.EvSMSSendResult:   (*Channel).gsmSMSSendResult,
		k3l.EvGSMRegistration: (*Channel).gsmRegistration,
	})
}

// HandleEvent applies one board event under the channel lock. A lock that cannot
// be taken within the retry budget skips the event and returns lock.ErrLockFailed.
func (c *Channel) HandleEvent(ev k3l.Event) error {
	h, ok := c.table[ev.Code]
	if !ok {
		c.log.Debugf("%s ignoring %s", c.tag, ev.Code)
		return nil
	}
	err := c.withLock(ev.Code.String(), func() error {
		if c.destroyed {
			return ErrDestroyed
		}
		return h(c, ev)
	})
	c.env.Observer.EventHandled(c.device, c.object, ev.Code, err)
	return err
}

// --- generic ---

func (c *Channel) onNewCall(ev k3l.Event) error {
	if !c.idle() {
		return fmt.Errorf("%s new call while %s: %w", c.tag, c.State(), ErrChannelBusy)
	}
	if err := guard(c.phase, evSeizeIn); err != nil {
		return fmt.Errorf("%s new call: %w", c.tag, err)
	}
	p := k3l.ParseParams(ev.Params)

	c.call.reset()
	c.call.Orig = p.Value("orig_addr")
	c.call.Dest = p.Value("dest_addr")
	c.call.StartedAt = time.Now()
	c.flags.set(IsIncoming)
	if err := step(c.phase, evSeizeIn); err != nil {
		c.log.Warnf("%s phase: %v", c.tag, err)
	}
	c.env.Observer.CallStarted(c.device, c.object, pbx.Inbound)
	c.log.Infof("%s Incoming call from %q to %q", c.tag, c.call.Orig, c.call.Dest)

	if c.env.Host == nil {
		return nil
	}
	s, err := c.env.Host.NewSession(pbx.CallInfo{
		Device:    c.device,
		Object:    c.object,
		Direction: pbx.Inbound,
		Orig:      c.call.Orig,
		Dest:      c.call.Dest,
		Signaling: c.family.String(),
	}, c)
	if err != nil {
		c.call.Cause = pbx.CauseSwitchCongestion
		_ = c.command(k3l.CmDisconnect, "")
		return fmt.Errorf("%s allocate session: %w", c.tag, err)
	}
	c.session = s
	c.call.SessionID = s.ID()
	return nil
}

func (c *Channel) onCallSuccess(ev k3l.Event) error {
	if c.State() != SeizedOutgoing {
		c.log.Debugf("%s %s outside an outgoing seizure", c.tag, ev.Code)
		return nil
	}
	if c.session != nil {
		c.session.RingReady()
	}
	return nil
}

func (c *Channel) onConnect(ev k3l.Event) error {
	f := c.flags.load()
	if !f.Any(IsIncoming | IsOutgoing) {
		return fmt.Errorf("%s connect: %w", c.tag, ErrNoCall)
	}
	if f.Has(Connected) {
		return nil
	}
	if err := guard(c.phase, evConnect); err != nil {
		return fmt.Errorf("%s connect: %w", c.tag, err)
	}

	c.flags.set(Connected)
	c.flags.clear(GenCORing)
	if err := step(c.phase, evConnect); err != nil {
		c.log.Warnf("%s phase: %v", c.tag, err)
	}
	now := time.Now()
	c.call.AnsweredAt = &now

	c.startAudio()
	c.flags.set(ReallyConnected)
	if err := step(c.phase, evConfirmAudio); err != nil {
		c.log.Warnf("%s phase: %v", c.tag, err)
	}
	c.startRecording()

	if c.session != nil {
		c.session.Answered()
	}
	c.log.Infof("%s Call connected", c.tag)
	return nil
}

func (c *Channel) onAudioStatus(ev k3l.Event) error {
	if ev.AddInfo == k3l.AudioSilence {
		return nil
	}
	if f := c.flags.load(); f.Has(GenPBXRing) && f.Any(Connected|IsOutgoing) {
		_ = c.command(k3l.CmStopCadence, "")
		c.startListen()
		c.flags.clear(GenPBXRing)
	}
	return nil
}

func (c *Channel) onDisconnect(ev k3l.Event) error {
	if c.idle() {
		return nil
	}
	if c.call.Cause == 0 {
		c.call.Cause = pbx.CauseNormalClearing
	}
	return c.command(k3l.CmDisconnect, "")
}

func (c *Channel) onChannelFree(ev k3l.Event) error {
	c.cleanup()
	return nil
}

func (c *Channel) onChannelFail(ev k3l.Event) error {
	c.flags.set(HasCallFail)
	c.call.Cause = pbx.CauseNetworkOutOfOrder
	c.log.Warnf("%s Channel failure (add_info=%d)", c.tag, ev.AddInfo)
	c.cleanup()
	return nil
}

func (c *Channel) onCallFail(ev k3l.Event) error {
	f := c.flags.load()
	if !f.Any(IsIncoming|IsOutgoing) || f.Has(Connected) {
		c.log.Debugf("%s %s outside a seizure", c.tag, ev.Code)
		return nil
	}
	c.flags.set(HasCallFail)
	c.call.Cause = FailCause(c.family, c.env.Country, ev.AddInfo)
	c.softCleanup()
	if c.call.Cause == pbx.CauseUserBusy {
		c.flags.set(GenBusy)
		c.startCadence("busy")
	} else {
		c.flags.set(GenFastBusy)
		c.startCadence("fast_busy")
	}
	c.log.Infof("%s Call failed: %s (code %d)", c.tag, c.call.Cause, ev.AddInfo)
	return nil
}

func (c *Channel) onNoAnswer(ev k3l.Event) error {
	if c.State() != SeizedOutgoing {
		return nil
	}
	c.call.Cause = pbx.CauseNoAnswer
	return c.command(k3l.CmDisconnect, "")
}

func (c *Channel) onDTMF(ev k3l.Event) error {
	if c.session != nil && ev.AddInfo > 0 {
		c.session.Digit(byte(ev.AddInfo))
	}
	return nil
}

func (c *Channel) onSeizureStart(ev k3l.Event) error {
	c.log.Debugf("%s Line seized by the network", c.tag)
	return nil
}

// onCollectCall is shared by ISDN and R2.
func (c *Channel) onCollectCall(ev k3l.Event) error {
	if c.idle() {
		return nil
	}
	c.flags.set(CollectCall)
	c.call.Collect = true
	if !c.env.DropCollectCall {
		return nil
	}
	c.log.Infof("%s Dropping collect call", c.tag)
	c.flags.set(DropCollect)
	c.call.Cause = pbx.CauseCallRejected
	return c.command(k3l.CmDisconnect, "")
}

// --- ISDN ---

func (c *Channel) isdnNewCall(ev k3l.Event) error {
	p := k3l.ParseParams(ev.Params)
	if err := c.onNewCall(ev); err != nil {
		return err
	}
	c.call.Family.ISDN.UUIDescriptor = p.Int("uui_descriptor", 0)
	c.call.Family.ISDN.UUIData = p.Value("uui_data")
	return nil
}

func (c *Channel) isdnProgress(ev k3l.Event) error {
	if c.idle() {
		return nil
	}
	c.call.Family.ISDN.Progress = ev.AddInfo
	switch ev.AddInfo {
	case k3l.ProgressInbandAvailable, k3l.ProgressNotEndToEnd:
		c.startListen()
		c.flags.clear(GenPBXRing)
		if c.session != nil {
			c.session.Progress()
		}
	}
	return nil
}

func (c *Channel) isdnUserInformation(ev k3l.Event) error {
	p := k3l.ParseParams(ev.Params)
	c.call.Family.ISDN.UUIDescriptor = p.Int("descriptor", c.call.Family.ISDN.UUIDescriptor)
	if len(ev.Data) > 0 {
		c.call.Family.ISDN.UUIData = string(ev.Data)
	} else {
		c.call.Family.ISDN.UUIData = p.Value("data")
	}
	return nil
}

func (c *Channel) isdnDisconnect(ev k3l.Event) error {
	if ev.AddInfo > 0 {
		c.call.Family.ISDN.Cause = ev.AddInfo
		c.call.Cause = FailCause(k3l.SigISDN, c.env.Country, ev.AddInfo)
	}
	return c.onDisconnect(ev)
}

func (c *Channel) isdnCallFail(ev k3l.Event) error {
	c.call.Family.ISDN.Cause = ev.AddInfo
	return c.onCallFail(ev)
}

// --- R2 ---

func (c *Channel) r2NewCall(ev k3l.Event) error {
	p := k3l.ParseParams(ev.Params)
	if err := c.onNewCall(ev); err != nil {
		return err
	}
	c.call.Family.R2.Category = p.Int("category", 0)
	if c.call.Family.R2.Category == r2CollectCategory {
		return c.onCollectCall(ev)
	}
	return nil
}

func (c *Channel) r2CallFail(ev k3l.Event) error {
	c.call.Family.R2.Condition = ev.AddInfo
	return c.onCallFail(ev)
}

// --- GSM ---

func (c *Channel) gsmNewSMS(ev k3l.Event) error {
	c.log.Infof("%s %d new SMS waiting", c.tag, ev.AddInfo)
	return nil
}

func (c *Channel) gsmSMSInfo(ev k3l.Event) error {
	p := k3l.ParseParams(ev.Params)
	c.log.Debugf("%s SMS info from %q, %d parts", c.tag, p.Value("from"), p.Int("total", 1))
	return nil
}

func (c *Channel) gsmSMSData(ev k3l.Event) error {
	msg, err := gsm.Decode(ev.Data, true)
	if err != nil {
		return fmt.Errorf("%s SMS: %w", c.tag, err)
	}
	c.log.Infof("%s SMS From %s: %s", c.tag, msg.From, msg.Text)
	if c.env.SMS != nil {
		c.env.SMS.SMSReceived(c.device, c.object, msg)
	}
	return nil
}

func (c *Channel) gsmSMSSendResult(ev k3l.Event) error {
	var err error
	if st := k3l.Status(ev.AddInfo); st != k3l.StatusSuccess {
		err = fmt.Errorf("send SMS: %s", st)
	}
	c.smsSent(k3l.ParseParams(ev.Params).Int("ref", c.call.Family.GSM.LastSMSRef), err)
	return nil
}

func (c *Channel) gsmRegistration(ev k3l.Event) error {
	p := k3l.ParseParams(ev.Params)
	name := mccmnc.Lookup(p.Value("operator"))
	if name == "" {
		name = p.Value("operator")
	}
	c.call.Family.GSM.Operator = name
	c.log.Infof("%s Registered on %s", c.tag, name)
	if c.env.SMS != nil {
		c.env.SMS.OperatorChanged(c.device, name)
	}
	return nil
}
