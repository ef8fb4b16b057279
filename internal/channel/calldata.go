package channel

import (
	"time"

	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/pbx"
)

// ISDNData holds what ISDN signaling adds to a call.
type ISDNData struct {
	UUIDescriptor int    `json:"uui_descriptor,omitempty"`
	UUIData       string `json:"uui_data,omitempty"`
	Progress      int    `json:"progress,omitempty"`
	Cause         int    `json:"cause,omitempty"`
}

// R2Data holds the MFC/R2 subscriber category and the last line condition.
type R2Data struct {
	Category  int `json:"category,omitempty"`
	Condition int `json:"condition,omitempty"`
}

type GSMData struct {
	Operator   string `json:"operator,omitempty"`
	LastSMSRef int    `json:"last_sms_ref,omitempty"`
}

// FamilyData is a tagged union: only the member matching Family is set.
type FamilyData struct {
	Family k3l.Signaling `json:"family"`
	ISDN   *ISDNData     `json:"isdn,omitempty"`
	R2     *R2Data       `json:"r2,omitempty"`
	GSM    *GSMData      `json:"gsm,omitempty"`
}

func newFamilyData(f k3l.Signaling) FamilyData {
	d := FamilyData{Family: f}
	switch f {
	case k3l.SigISDN:
		d.ISDN = &ISDNData{}
	case k3l.SigR2:
		d.R2 = &R2Data{}
	case k3l.SigGSM:
		d.GSM = &GSMData{}
	}
	return d
}

func (d FamilyData) clone() FamilyData {
	out := d
	if d.ISDN != nil {
		v := *d.ISDN
		out.ISDN = &v
	}
	if d.R2 != nil {
		v := *d.R2
		out.R2 = &v
	}
	if d.GSM != nil {
		v := *d.GSM
		out.GSM = &v
	}
	return out
}

// CallData is the per-call record owned by a channel and reset between calls.
type CallData struct {
	SessionID      string     `json:"session_id,omitempty"`
	Orig           string     `json:"orig,omitempty"`
	Dest           string     `json:"dest,omitempty"`
	TransferDigits string     `json:"transfer_digits,omitempty"`
	Collect        bool       `json:"collect,omitempty"`
	Cause          pbx.Cause  `json:"cause,omitempty"`
	StartedAt      time.Time  `json:"started_at,omitempty"`
	AnsweredAt     *time.Time `json:"answered_at,omitempty"`
	Family         FamilyData `json:"family"`
}

// reset clears the call but keeps family-wide state such as the GSM operator.
func (d *CallData) reset() {
	fam := newFamilyData(d.Family.Family)
	if d.Family.GSM != nil {
		fam.GSM.Operator = d.Family.GSM.Operator
	}
	*d = CallData{Family: fam}
}

func (d CallData) clone() CallData {
	out := d
	out.Family = d.Family.clone()
	if d.AnsweredAt != nil {
		t := *d.AnsweredAt
		out.AnsweredAt = &t
	}
	return out
}
