// Package pbx defines how the driver talks to the switching core that owns call
// sessions, and ships a small built-in switch used when no external core is attached.
package pbx

type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// CallInfo describes the call a session is created for.
type CallInfo struct {
	Device    int
	Object    int
	Direction Direction
	Orig      string
	Dest      string
	Signaling string
}

// Session is the PBX half of one call. The driver calls these while holding the
// channel lock, so implementations must not call back into the channel synchronously.
type Session interface {
	ID() string
	RingReady()
	Progress()
	Answered()
	Digit(d byte)
	Hangup(cause Cause)
}

// Channel is the driver half of one call, as used by the PBX. Session-scoped
// requests carry the session ID so a late request cannot touch the next call.
type Channel interface {
	Address() (device, object int)
	OnInit(s Session, orig, dest string) error
	OnRouting(sessionID string) error
	OnHangup(sessionID string, cause Cause) error
	OnDestroy(sessionID string)
	Answer(sessionID string) error
	SendDigit(sessionID string, d byte) error
	ReadFrame() []byte
	WriteFrame(p []byte) bool
}

// Annotator is implemented by sessions that accept call metadata, such as the
// name of a recording.
type Annotator interface {
	Annotate(key, value string)
}

// Host allocates PBX sessions for calls arriving from the trunk.
type Host interface {
	NewSession(info CallInfo, ch Channel) (Session, error)
}
