package channel

import (
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/pbx"
)

// OnAudio is the hardware audio callback. It stores the received bytes for the PBX,
// copies them to the taps and answers with one packet of PBX audio, if any is
// buffered. It never blocks: while the channel is being cleaned up the audio is dropped.
func (c *Channel) OnAudio(data []byte) {
	if !c.audioMu.TryRLock() {
		return
	}
	defer c.audioMu.RUnlock()

	if !c.flags.has(ListenActive) {
		return
	}
	if !c.reader.GiveWritable(data) {
		c.env.Observer.AudioOverrun(c.device, c.object)
	}
	for _, t := range *c.taps.Load() {
		t.tap.RX(data)
	}

	if !c.flags.has(StreamActive) {
		return
	}
	if fr, ok := c.writer.PickReadable(); ok {
		_ = c.commandBuf(k3l.CmSendStreamBuffer, "", fr.Data)
	}
}

// ReadFrame returns the next PBX-sized packet received from the trunk, or comfort
// noise when none is buffered. The returned slice is owned by the caller.
func (c *Channel) ReadFrame() []byte {
	out := make([]byte, len(c.silence))
	if !c.audioMu.TryRLock() {
		copy(out, c.silence)
		return out
	}
	defer c.audioMu.RUnlock()

	fr, ok := c.reader.PickReadable()
	if !ok {
		copy(out, c.silence)
		if c.flags.has(ListenActive) {
			c.env.Observer.AudioUnderrun(c.device, c.object)
		}
		return out
	}
	copy(out, fr.Data)
	return out
}

// WriteFrame queues PBX audio for the trunk. It returns false when the packet was
// dropped, either because the stream is not running or the writer is full. It is
// safe to call from several goroutines, e.g. the PBX media loop and a talk-back
// monitor.
func (c *Channel) WriteFrame(p []byte) bool {
	if !c.audioMu.TryRLock() {
		return false
	}
	defer c.audioMu.RUnlock()

	if !c.flags.has(StreamActive) {
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.writer.GiveWritable(p) {
		c.env.Observer.AudioOverrun(c.device, c.object)
		return false
	}
	for _, t := range *c.taps.Load() {
		t.tap.TX(p)
	}
	return true
}

// AddTap attaches t under name, replacing an existing tap of that name.
func (c *Channel) AddTap(name string, t Tap) {
	c.tapMu.Lock()
	defer c.tapMu.Unlock()
	cur := *c.taps.Load()
	next := make([]namedTap, 0, len(cur)+1)
	for _, x := range cur {
		if x.name != name {
			next = append(next, x)
		}
	}
	next = append(next, namedTap{name: name, tap: t})
	c.taps.Store(&next)
}

// RemoveTap detaches the tap called name and reports whether it existed.
func (c *Channel) RemoveTap(name string) bool {
	c.tapMu.Lock()
	defer c.tapMu.Unlock()
	cur := *c.taps.Load()
	next := make([]namedTap, 0, len(cur))
	for _, x := range cur {
		if x.name != name {
			next = append(next, x)
		}
	}
	if len(next) == len(cur) {
		return false
	}
	c.taps.Store(&next)
	return true
}

// The helpers below run with the channel lock held.

func (c *Channel) startAudio() {
	if !c.flags.has(StreamActive) && c.command(k3l.CmStartStream, "") == nil {
		c.flags.set(StreamActive)
	}
	c.startListen()
}

func (c *Channel) startListen() {
	if c.flags.has(ListenActive) {
		return
	}
	if c.command(k3l.CmStartListen, "") == nil {
		c.flags.set(ListenActive)
	}
}

func (c *Channel) stopAudio() {
	f := c.flags.load()
	if f.Has(ListenActive) {
		_ = c.command(k3l.CmStopListen, "")
	}
	if f.Has(StreamActive) {
		_ = c.command(k3l.CmStopStream, "")
	}
	c.flags.clear(ListenActive | StreamActive)

	c.audioMu.Lock()
	c.reader.Clear()
	c.writer.Clear()
	c.audioMu.Unlock()
}

func (c *Channel) startCadence(name string) {
	_ = c.command(k3l.CmStartCadence, k3l.NewParams("cadence", name).String())
}

func (c *Channel) stopCadences() {
	if c.flags.load().Any(cadenceFlags) {
		_ = c.command(k3l.CmStopCadence, "")
	}
	c.flags.clear(cadenceFlags)
}

func (c *Channel) startRecording() {
	if c.env.Recorder == nil || c.recording != nil {
		return
	}
	rec, name, err := c.env.Recorder.Open(c.device, c.object, c.call.SessionID)
	if err != nil {
		c.log.Warnf("%s Failed to start recording: %v", c.tag, err)
		return
	}
	c.recording = rec
	c.AddTap("recording", rec)
	c.flags.set(Recording)
	if a, ok := c.session.(pbx.Annotator); ok {
		a.Annotate("recording", name)
	}
	c.log.Infof("%s Recording to %s", c.tag, name)
}

func (c *Channel) stopRecording() {
	if c.recording == nil {
		return
	}
	c.RemoveTap("recording")
	if err := c.recording.Close(); err != nil {
		c.log.Warnf("%s Failed to close recording: %v", c.tag, err)
	}
	c.recording = nil
	c.flags.clear(Recording)
}

// softCleanup stops tones only; the call stays seized until the line is released.
func (c *Channel) softCleanup() {
	c.stopCadences()
}

// cleanup releases everything a call holds and returns the channel to idle. It is
// a no-op on an idle channel.
func (c *Channel) cleanup() {
	if c.flags.load() == 0 && c.session == nil {
		return
	}
	c.stopCadences()
	c.stopAudio()
	c.stopRecording()

	cause := c.call.Cause
	if cause == pbx.CauseUnspecified {
		cause = pbx.CauseNormalClearing
	}
	c.lastCause = cause
	if s := c.session; s != nil {
		c.session = nil
		s.Hangup(cause)
	}

	c.flags.reset()
	c.call.reset()
	if c.phase.Current() != Idle.String() {
		if err := step(c.phase, evRelease); err != nil {
			c.phase.SetState(Idle.String())
		}
	}
	c.log.Debugf("%s Released (%s)", c.tag, cause)
}
