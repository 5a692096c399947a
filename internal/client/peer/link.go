package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Mesh/internal/domain"
)

// Link is the local handle to the connection with one remote member.
type Link struct {
	Remote domain.MemberID
	Role   Role
	State  State

	transport Transport

	// restarted is the one-restart budget; renewed on connected.
	restarted   bool
	makingOffer bool
	haveRemote  bool
	candidates  []webrtc.ICECandidateInit

	// superseded counts offers replaced by a newer one before their answer
	// arrived; that many late answers are dropped once negotiation settles.
	superseded int

	outAudio   webrtc.TrackLocal
	outVideo   webrtc.TrackLocal
	swapVideo  webrtc.TrackLocal
	swapQueued bool

	// epoch invalidates negotiation timers armed before the last restart.
	epoch     uint64
	stopTimer func() bool
}

// LinkInfo is a read-only view of a Link.
type LinkInfo struct {
	Remote  domain.MemberID `json:"remote"`
	Role    string          `json:"role"`
	State   string          `json:"state"`
	VideoID string          `json:"video_id,omitempty"`
}

func (l *Link) Info() LinkInfo {
	info := LinkInfo{Remote: l.Remote, Role: l.Role.String(), State: l.State.String()}
	if l.outVideo != nil {
		info.VideoID = l.outVideo.ID()
	}
	return info
}

// OutboundVideo is the video track the remote currently receives.
func (l *Link) OutboundVideo() webrtc.TrackLocal {
	return l.outVideo
}

func (l *Link) disarm() {
	l.epoch++
	if l.stopTimer != nil {
		l.stopTimer()
		l.stopTimer = nil
	}
}
