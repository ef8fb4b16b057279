package k3l

import "fmt"

type EventCode int

const (
	EvNewCall EventCode = iota + 1
	EvCallSuccess
	EvConnect
	EvDisconnect
	EvCallFail
	EvNoAnswer
	EvChannelFree
	EvChannelFail
	EvAudioStatus
	EvCollectCall
	EvSeizureStart
	EvDTMFDetected
	EvISDNProgressIndicator
	EvUserInformation
	EvCallAnswerInfo
	EvNewSMS
	EvSMSInfo
	EvSMSData
	EvSMSSendResult
	EvGSMRegistration
	EvAudioListenerLost
	EvDeviceFail
)

var eventNames = map[EventCode]string{
	EvNewCall:               "EV_NEW_CALL",
	EvCallSuccess:           "EV_CALL_SUCCESS",
	EvConnect:               "EV_CONNECT",
	EvDisconnect:            "EV_DISCONNECT",
	EvCallFail:              "EV_CALL_FAIL",
	EvNoAnswer:              "EV_NO_ANSWER",
	EvChannelFree:           "EV_CHANNEL_FREE",
	EvChannelFail:           "EV_CHANNEL_FAIL",
	EvAudioStatus:           "EV_AUDIO_STATUS",
	EvCollectCall:           "EV_COLLECT_CALL",
	EvSeizureStart:          "EV_SEIZURE_START",
	EvDTMFDetected:          "EV_DTMF_DETECTED",
	EvISDNProgressIndicator: "EV_ISDN_PROGRESS_INDICATOR",
	EvUserInformation:       "EV_USER_INFORMATION",
	EvCallAnswerInfo:        "EV_CALL_ANSWER_INFO",
	EvNewSMS:                "EV_NEW_SMS",
	EvSMSInfo:               "EV_SMS_INFO",
	EvSMSData:               "EV_SMS_DATA",
	EvSMSSendResult:         "EV_SMS_SEND_RESULT",
	EvGSMRegistration:       "EV_GSM_REGISTRATION",
	EvAudioListenerLost:     "EV_AUDIO_LISTENER_LOST",
	EvDeviceFail:            "EV_DEVICE_FAIL",
}

func (c EventCode) String() string {
	if n, ok := eventNames[c]; ok {
		return n
	}
	return fmt.Sprintf("EV_UNKNOWN(%d)", int(c))
}

// Immediate reports events the callback thread handles itself instead of queueing.
func (c EventCode) Immediate() bool {
	return c == EvAudioListenerLost || c == EvDeviceFail
}

type CommandCode int

const (
	CmMakeCall CommandCode = iota + 1
	CmConnect
	CmPreConnect
	CmDisconnect
	CmRingback
	CmSendDTMF
	CmFlash
	CmStartStream
	CmStopStream
	CmStartListen
	CmStopListen
	CmStartCadence
	CmStopCadence
	CmSendStreamBuffer
	CmSetLineCondition
	CmSendSMS
	CmRegisterAudioListener
	CmResetChannel
)

var commandNames = map[CommandCode]string{
	CmMakeCall:              "CM_MAKE_CALL",
	CmConnect:               "CM_CONNECT",
	CmPreConnect:            "CM_PRE_CONNECT",
	CmDisconnect:            "CM_DISCONNECT",
	CmRingback:              "CM_RINGBACK",
	CmSendDTMF:              "CM_SEND_DTMF",
	CmFlash:                 "CM_FLASH",
	CmStartStream:           "CM_START_STREAM_BUFFER",
	CmStopStream:            "CM_STOP_STREAM_BUFFER",
	CmStartListen:           "CM_LISTEN",
	CmStopListen:            "CM_STOP_LISTEN",
	CmStartCadence:          "CM_START_CADENCE",
	CmStopCadence:           "CM_STOP_CADENCE",
	CmSendStreamBuffer:      "CM_SEND_TO_STREAM_BUFFER",
	CmSetLineCondition:      "CM_SET_LINE_CONDITION",
	CmSendSMS:               "CM_SEND_SMS",
	CmRegisterAudioListener: "CM_REGISTER_AUDIO_LISTENER",
	CmResetChannel:          "CM_RESET_CHANNEL",
}

func (c CommandCode) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CM_UNKNOWN(%d)", int(c))
}

type Status int

const (
	StatusSuccess Status = iota
	StatusFail
	StatusTimeout
	StatusBusy
	StatusLocked
	StatusInvalidParams
	StatusInvalidState
	StatusNotFound
	StatusNotAvailable
	StatusOverflow
)

var statusNames = map[Status]string{
	StatusSuccess:       "success",
	StatusFail:          "fail",
	StatusTimeout:       "timeout",
	StatusBusy:          "busy",
	StatusLocked:        "locked",
	StatusInvalidParams: "invalid parameters",
	StatusInvalidState:  "invalid state",
	StatusNotFound:      "not found",
	StatusNotAvailable:  "not available",
	StatusOverflow:      "overflow",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Audio status values carried in AddInfo of EvAudioStatus.
const (
	AudioSilence = iota
	AudioRingback
	AudioBusy
	AudioVoice
	AudioFax
)

// ISDN progress indicator values.
const (
	ProgressNotEndToEnd     = 1
	ProgressDestNonISDN     = 2
	ProgressOrigNonISDN     = 3
	ProgressReturnedToISDN  = 4
	ProgressInbandAvailable = 8
)
