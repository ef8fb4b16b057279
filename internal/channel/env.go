package channel

import (
	"io"
	"time"

	"github.com/pccr10001/trunkie/internal/frame"
	"github.com/pccr10001/trunkie/internal/gsm"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/pbx"
)

// Env is what every channel of a registry shares: the board runtime, the PBX host,
// the command queues and the optional observers. It is built once at startup.
type Env struct {
	API      k3l.API
	Host     pbx.Host
	Commands CommandQueue // nil runs commands inline, on the caller's goroutine
	Observer Observer
	Recorder Recorder
	SMS      SMSSink

	LockRetries     int
	LockDelay       time.Duration
	Sizing          frame.Sizing
	Codec           frame.Codec
	DropCollectCall bool
	Country         string
}

func (e *Env) applyDefaults() {
	if e.LockRetries <= 0 {
		e.LockRetries = 25
	}
	if e.LockDelay <= 0 {
		e.LockDelay = 100 * time.Millisecond
	}
	if e.Sizing.PBXPacket == 0 {
		e.Sizing = frame.NewSizing(20, 16, 10)
	}
	if e.Country == "" {
		e.Country = "default"
	}
	if e.Observer == nil {
		e.Observer = Observers(nil)
	}
}

// CommandQueue accepts requests for the per-device command worker.
type CommandQueue interface {
	EnqueueCommand(req CommandRequest) bool
}

// Observer is notified of channel activity. Calls happen on driver goroutines,
// some under the channel lock; implementations must be quick and must not call
// back into the channel.
type Observer interface {
	EventHandled(device, object int, code k3l.EventCode, err error)
	LockFailed(device, object int)
	StateChanged(snap Snapshot, from, to State)
	CallStarted(device, object int, dir pbx.Direction)
	AudioOverrun(device, object int)
	AudioUnderrun(device, object int)
}

// Observers fans out to each member.
type Observers []Observer

func (o Observers) EventHandled(device, object int, code k3l.EventCode, err error) {
	for _, x := range o {
		x.EventHandled(device, object, code, err)
	}
}

func (o Observers) LockFailed(device, object int) {
	for _, x := range o {
		x.LockFailed(device, object)
	}
}

func (o Observers) StateChanged(snap Snapshot, from, to State) {
	for _, x := range o {
		x.StateChanged(snap, from, to)
	}
}

func (o Observers) CallStarted(device, object int, dir pbx.Direction) {
	for _, x := range o {
		x.CallStarted(device, object, dir)
	}
}

func (o Observers) AudioOverrun(device, object int) {
	for _, x := range o {
		x.AudioOverrun(device, object)
	}
}

func (o Observers) AudioUnderrun(device, object int) {
	for _, x := range o {
		x.AudioUnderrun(device, object)
	}
}

// Tap sees a copy of the audio crossing a channel. RX is audio received from the
// trunk, TX audio sent to it. Both run on the audio path and must not block.
type Tap interface {
	RX(p []byte)
	TX(p []byte)
}

type TapCloser interface {
	Tap
	io.Closer
}

// Recorder opens a per-call recording. The returned name is stored with the call.
type Recorder interface {
	Open(device, object int, sessionID string) (TapCloser, string, error)
}

// SMSSink receives GSM side traffic.
type SMSSink interface {
	SMSReceived(device, object int, msg gsm.Message)
	SMSSent(device, object int, ref int, err error)
	OperatorChanged(device int, operator string)
}
