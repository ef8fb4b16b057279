package pbx

import "fmt"

// Cause is a Q.850 clearing cause as reported to the PBX.
type Cause int

const (
	CauseUnspecified           Cause = 0
	CauseUnallocatedNumber     Cause = 1
	CauseNoRouteDestination    Cause = 3
	CauseNormalClearing        Cause = 16
	CauseUserBusy              Cause = 17
	CauseNoUserResponse        Cause = 18
	CauseNoAnswer              Cause = 19
	CauseSubscriberAbsent      Cause = 20
	CauseCallRejected          Cause = 21
	CauseNumberChanged         Cause = 22
	CauseDestinationOutOfOrder Cause = 27
	CauseInvalidNumberFormat   Cause = 28
	CauseFacilityRejected      Cause = 29
	CauseNormalUnspecified     Cause = 31
	CauseNoCircuitAvailable    Cause = 34
	CauseNetworkOutOfOrder     Cause = 38
	CauseTemporaryFailure      Cause = 41
	CauseSwitchCongestion      Cause = 42
	CauseRequestedChanUnavail  Cause = 44
	CauseBearerCapNotAvail     Cause = 58
	CauseIncompatibleDest      Cause = 88
	CauseInterworking          Cause = 127
)

var causeNames = map[Cause]string{
	CauseUnspecified:           "UNSPECIFIED",
	CauseUnallocatedNumber:     "UNALLOCATED_NUMBER",
	CauseNoRouteDestination:    "NO_ROUTE_DESTINATION",
	CauseNormalClearing:        "NORMAL_CLEARING",
	CauseUserBusy:              "USER_BUSY",
	CauseNoUserResponse:        "NO_USER_RESPONSE",
	CauseNoAnswer:              "NO_ANSWER",
	CauseSubscriberAbsent:      "SUBSCRIBER_ABSENT",
	CauseCallRejected:          "CALL_REJECTED",
	CauseNumberChanged:         "NUMBER_CHANGED",
	CauseDestinationOutOfOrder: "DESTINATION_OUT_OF_ORDER",
	CauseInvalidNumberFormat:   "INVALID_NUMBER_FORMAT",
	CauseFacilityRejected:      "FACILITY_REJECTED",
	CauseNormalUnspecified:     "NORMAL_UNSPECIFIED",
	CauseNoCircuitAvailable:    "NORMAL_CIRCUIT_CONGESTION",
	CauseNetworkOutOfOrder:     "NETWORK_OUT_OF_ORDER",
	CauseTemporaryFailure:      "NORMAL_TEMPORARY_FAILURE",
	CauseSwitchCongestion:      "SWITCH_CONGESTION",
	CauseRequestedChanUnavail:  "REQUESTED_CHAN_UNAVAIL",
	CauseBearerCapNotAvail:     "BEARERCAPABILITY_NOTAVAIL",
	CauseIncompatibleDest:      "INCOMPATIBLE_DESTINATION",
	CauseInterworking:          "INTERWORKING",
}

func (c Cause) String() string {
	if n, ok := causeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CAUSE_%d", int(c))
}

// Known reports whether c is a cause this driver can name.
func (c Cause) Known() bool {
	_, ok := causeNames[c]
	return ok
}
