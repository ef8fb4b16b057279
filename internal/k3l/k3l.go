// Package k3l describes the boundary to the trunk board runtime: synchronous
// commands addressed to a device/channel pair, and asynchronous event and audio
// callbacks.
package k3l

import (
	"errors"
	"fmt"
	"strings"
)

// API is the board runtime as seen by the driver.
type API interface {
	// Devices enumerates the boards present at startup.
	Devices() []DeviceInfo
	// SendCommand issues one command synchronously and returns its status.
	SendCommand(cmd Command) Status
	// Subscribe installs the callback receiver. Events and audio may arrive on
	// runtime-owned goroutines; the handler must return quickly.
	Subscribe(h Handler)
	Close() error
}

// Handler receives runtime callbacks.
type Handler interface {
	OnEvent(ev Event)
	OnAudio(device, object int, data []byte)
}

type Signaling int

const (
	SigE1 Signaling = iota // plain CAS line
	SigISDN
	SigR2
	SigGSM
)

func (s Signaling) String() string {
	switch s {
	case SigE1:
		return "e1"
	case SigISDN:
		return "isdn"
	case SigR2:
		return "r2"
	case SigGSM:
		return "gsm"
	}
	return fmt.Sprintf("signaling(%d)", int(s))
}

func (s Signaling) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signaling) UnmarshalText(b []byte) error {
	v, err := ParseSignaling(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseSignaling(s string) (Signaling, error) {
	switch strings.ToLower(s) {
	case "e1", "cas":
		return SigE1, nil
	case "isdn", "pri":
		return SigISDN, nil
	case "r2", "r2mfc":
		return SigR2, nil
	case "gsm":
		return SigGSM, nil
	}
	return SigE1, fmt.Errorf("unknown signaling %q", s)
}

type DeviceInfo struct {
	Device    int       `json:"device"`
	Serial    string    `json:"serial"`
	Channels  int       `json:"channels"`
	Signaling Signaling `json:"signaling"`
}

type Command struct {
	Device int
	Object int
	Code   CommandCode
	Params string
	Buffer []byte
}

func (c Command) String() string {
	return fmt.Sprintf("%s on B%dC%d (%s)", c.Code, c.Device, c.Object, c.Params)
}

type Event struct {
	Code    EventCode
	Device  int
	Object  int
	AddInfo int
	Params  string
	Data    []byte
}

func (e Event) String() string {
	return fmt.Sprintf("%s on B%dC%d add_info=%d (%s)", e.Code, e.Device, e.Object, e.AddInfo, e.Params)
}

// CommandError carries a non-success status for a command.
type CommandError struct {
	Code   CommandCode
	Status Status
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Code, e.Status)
}

// Send issues cmd and converts a non-success status to a *CommandError.
func Send(api API, cmd Command) error {
	st := api.SendCommand(cmd)
	if st == StatusSuccess {
		return nil
	}
	return &CommandError{Code: cmd.Code, Status: st}
}

// StatusOf returns the status carried by err, or StatusSuccess for nil.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Status
	}
	return StatusFail
}
