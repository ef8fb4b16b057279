package calling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Signal types exchanged on the monitor websocket.
const (
	SignalReady     = "ready"
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
	SignalTalk      = "talk"
	SignalHangup    = "hangup"
	SignalError     = "error"
)

var ErrBadSignal = errors.New("bad signal message")

type SignalMessage struct {
	Type      string                     `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Talk      *bool                      `json:"talk,omitempty"`
	Text      string                     `json:"text,omitempty"`
}

func ErrorSignal(err error) SignalMessage {
	return SignalMessage{Type: SignalError, Text: err.Error()}
}

// ParseSignalMessage decodes a browser message and checks that the payload its
// type needs is present.
func ParseSignalMessage(raw []byte) (*SignalMessage, error) {
	var msg SignalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignal, err)
	}
	switch msg.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrBadSignal)
	case SignalOffer:
		if msg.Offer == nil {
			return nil, fmt.Errorf("%w: offer is required", ErrBadSignal)
		}
	case SignalCandidate:
		if msg.Candidate == nil {
			return nil, fmt.Errorf("%w: candidate is required", ErrBadSignal)
		}
	case SignalTalk:
		if msg.Talk == nil {
			return nil, fmt.Errorf("%w: talk flag is required", ErrBadSignal)
		}
	case SignalHangup:
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrBadSignal, msg.Type)
	}
	return &msg, nil
}
