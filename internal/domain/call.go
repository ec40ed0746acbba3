package domain

type CallState int

const (
	CallStateIdle CallState = iota
	CallStateAwaitingLocalMedia
	CallStateReady
	CallStateCalling
	CallStateInCall
	CallStateEnding
)

func (s CallState) String() string {
	switch s {
	case CallStateIdle:
		return "idle"
	case CallStateAwaitingLocalMedia:
		return "awaiting_local_media"
	case CallStateReady:
		return "ready"
	case CallStateCalling:
		return "calling"
	case CallStateInCall:
		return "in_call"
	case CallStateEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// Busy reports whether a call is being set up or is already running.
func (s CallState) Busy() bool {
	return s == CallStateCalling || s == CallStateInCall
}

type RecordingState int

const (
	RecordingStopped RecordingState = iota
	RecordingActive
)

func (s RecordingState) String() string {
	switch s {
	case RecordingStopped:
		return "stopped"
	case RecordingActive:
		return "recording"
	default:
		return "unknown"
	}
}
