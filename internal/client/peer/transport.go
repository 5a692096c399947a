package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Mesh/internal/domain"
)

type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// RemoteTrack is the inbound media of a link; *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// TransportEvents are invoked from transport goroutines.
type TransportEvents struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnState        func(TransportState)
	OnTrack        func(RemoteTrack)
}

// Transport is one real-time connection to a remote member. Calls return once
// the local side has applied the change; connectivity is reported through
// TransportEvents.OnState.
type Transport interface {
	// SetOutbound attaches the outbound tracks before the first offer or
	// answer. A nil track leaves a receive-capable slot.
	SetOutbound(audio, video webrtc.TrackLocal) error
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	// ApplyOffer sets the remote offer and returns the local answer.
	ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	// Rollback discards the outstanding local offer.
	Rollback() error
	AddICECandidate(c webrtc.ICECandidateInit) error
	// ReplaceVideo swaps the outbound video without renegotiation.
	ReplaceVideo(track webrtc.TrackLocal) error
	Close() error
}

type TransportFactory func(remote domain.MemberID, events TransportEvents) (Transport, error)
