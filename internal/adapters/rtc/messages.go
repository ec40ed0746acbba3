package rtc

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Broker message types. The broker speaks the PeerJS server protocol.
const (
	msgOpen      = "OPEN"
	msgError     = "ERROR"
	msgIDTaken   = "ID-TAKEN"
	msgHeartbeat = "HEARTBEAT"
	msgOffer     = "OFFER"
	msgAnswer    = "ANSWER"
	msgCandidate = "CANDIDATE"
	msgLeave     = "LEAVE"
	msgExpire    = "EXPIRE"
)

const connectionTypeMedia = "media"

type brokerMessage struct {
	Type    string          `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type sdpPayload struct {
	SDP          webrtc.SessionDescription `json:"sdp"`
	Type         string                    `json:"type"`
	ConnectionID string                    `json:"connectionId"`
	Browser      string                    `json:"browser,omitempty"`
}

type candidatePayload struct {
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
	Type         string                  `json:"type"`
	ConnectionID string                  `json:"connectionId"`
}

type errorPayload struct {
	Msg string `json:"msg"`
}

func encodeMessage(typ, dst string, payload any) ([]byte, error) {
	m := brokerMessage{Type: typ, Dst: dst}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		m.Payload = raw
	}
	return json.Marshal(m)
}
