package channel

import (
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/pbx"
)

// FallbackCause is reported when a failure code has no mapping.
const FallbackCause = pbx.CauseUserBusy

// r2Conditions maps backward group B signals to Q.850 causes, per country.
// Coverage follows what each national variant documents; anything else falls back.
var r2Conditions = map[string]map[int]pbx.Cause{
	"brazil": {
		2: pbx.CauseUserBusy,
		3: pbx.CauseNumberChanged,
		4: pbx.CauseSwitchCongestion,
		7: pbx.CauseUnallocatedNumber,
		8: pbx.CauseDestinationOutOfOrder,
	},
	"argentina": {
		2: pbx.CauseNoRouteDestination,
		3: pbx.CauseUserBusy,
		4: pbx.CauseSwitchCongestion,
		5: pbx.CauseUnallocatedNumber,
		8: pbx.CauseDestinationOutOfOrder,
	},
	"mexico": {
		2: pbx.CauseUserBusy,
	},
	"default": {
		2: pbx.CauseNoRouteDestination,
		3: pbx.CauseUserBusy,
		4: pbx.CauseSwitchCongestion,
		5: pbx.CauseUnallocatedNumber,
		8: pbx.CauseDestinationOutOfOrder,
	},
}

// FailCause translates a call-fail code reported by the board into a PBX cause.
func FailCause(family k3l.Signaling, country string, code int) pbx.Cause {
	switch family {
	case k3l.SigISDN, k3l.SigGSM:
		if c := pbx.Cause(code); code > 0 && c.Known() {
			return c
		}
	case k3l.SigR2:
		table, ok := r2Conditions[country]
		if !ok {
			table = r2Conditions["default"]
		}
		if c, ok := table[code]; ok {
			return c
		}
	}
	return FallbackCause
}

// StatusCause maps a failed command status to the cause reported to the PBX.
func StatusCause(st k3l.Status) pbx.Cause {
	switch st {
	case k3l.StatusSuccess:
		return pbx.CauseNormalClearing
	case k3l.StatusBusy, k3l.StatusLocked:
		return pbx.CauseRequestedChanUnavail
	case k3l.StatusTimeout:
		return pbx.CauseNoUserResponse
	case k3l.StatusInvalidParams:
		return pbx.CauseInvalidNumberFormat
	}
	return pbx.CauseTemporaryFailure
}
