package peer

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// Signal is the negotiation payload carried opaquely by the relay.
type Signal struct {
	Type      SignalType               `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func OfferSignal(sd webrtc.SessionDescription) Signal {
	return Signal{Type: SignalOffer, SDP: sd.SDP}
}

func AnswerSignal(sd webrtc.SessionDescription) Signal {
	return Signal{Type: SignalAnswer, SDP: sd.SDP}
}

func CandidateSignal(c webrtc.ICECandidateInit) Signal {
	return Signal{Type: SignalCandidate, Candidate: &c}
}

// Description returns the session description of an offer or answer.
func (s Signal) Description() webrtc.SessionDescription {
	if s.Type == SignalAnswer {
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s.SDP}
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.SDP}
}

func (s Signal) Encode() (json.RawMessage, error) {
	return json.Marshal(s)
}

func DecodeSignal(raw json.RawMessage) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrSignalApply, err)
	}
	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.SDP == "" {
			return Signal{}, fmt.Errorf("%w: %s without sdp", ErrSignalApply, s.Type)
		}
	case SignalCandidate:
		if s.Candidate == nil {
			return Signal{}, fmt.Errorf("%w: candidate without body", ErrSignalApply)
		}
	default:
		return Signal{}, fmt.Errorf("%w: unknown payload type %q", ErrSignalApply, s.Type)
	}
	return s, nil
}
