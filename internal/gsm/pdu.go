// Package gsm converts SMS PDUs exchanged with GSM trunk channels.
package gsm

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/tpdu"
)

var ErrEmptyPDU = errors.New("empty PDU")

type Message struct {
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	RawPDU    string    `json:"raw_pdu"`
}

// Decode parses a received (SMS-DELIVER) PDU. When withSMSC is set the leading
// SMSC address field is skipped first. Undecodable user data is reported in Text
// rather than failing the whole message.
func Decode(b []byte, withSMSC bool) (Message, error) {
	out := Message{RawPDU: hex.EncodeToString(b), Timestamp: time.Now()}
	if len(b) == 0 {
		return out, ErrEmptyPDU
	}

	// The first octet is the length of the SMSC field in octets
	if withSMSC {
		smscLen := int(b[0])
		if len(b) > smscLen+1 {
			b = b[smscLen+1:]
		}
	}

	msg, err := sms.Unmarshal(b)
	if err != nil {
		return out, fmt.Errorf("decode TPDU: %w", err)
	}

	if msg.SmsType() == tpdu.SmsDeliver {
		out.From = msg.OA.Number()
		if !msg.SCTS.Time.IsZero() {
			out.Timestamp = msg.SCTS.Time
		}
	}

	alphabet, err := msg.DCS.Alphabet()
	var ud []byte
	if err == nil {
		ud, err = tpdu.DecodeUserData(msg.UD, msg.UDH, alphabet)
	}
	switch {
	case err != nil:
		out.Text = fmt.Sprintf("Decode Failed (DCS: 0x%02X)", msg.DCS)
	case len(ud) == 0 && len(msg.UD) > 0:
		out.Text = fmt.Sprintf("UD Hex: %X", msg.UD)
	default:
		out.Text = string(ud)
	}
	return out, nil
}

// DecodeHex is Decode for hex encoded PDUs.
func DecodeHex(raw string, withSMSC bool) (Message, error) {
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Message{RawPDU: raw}, fmt.Errorf("decode hex PDU: %w", err)
	}
	return Decode(b, withSMSC)
}

// Encode builds the SMS-SUBMIT PDUs for text, one per segment.
func Encode(to, text string) ([][]byte, error) {
	if to == "" {
		return nil, errors.New("missing destination number")
	}
	pdus, err := sms.Encode([]byte(text), sms.To(to))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(pdus))
	for i := range pdus {
		b, err := pdus[i].MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
