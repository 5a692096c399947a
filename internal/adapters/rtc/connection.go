package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/client/peer"
	"github.com/dkeye/Mesh/internal/domain"
)

var ErrNotReady = errors.New("outbound tracks not attached")

// WebRTCConnection is one pion PeerConnection toward a remote member.
// Candidates are trickled; no call waits for ICE gathering.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.MemberID

	audio *webrtc.RTPSender
	video *webrtc.RTPSender
}

// NewTransport matches peer.TransportFactory.
func (a *API) NewTransport(remote domain.MemberID, ev peer.TransportEvents) (peer.Transport, error) {
	pc, err := a.api.NewPeerConnection(a.config)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{pc: pc, remote: remote}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && ev.OnICECandidate != nil {
			ev.OnICECandidate(cand.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if ev.OnState != nil {
			ev.OnState(transportState(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("remote", string(remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if ev.OnTrack != nil {
			ev.OnTrack(track)
		}
	})

	return c, nil
}

func transportState(s webrtc.PeerConnectionState) peer.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return peer.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return peer.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return peer.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return peer.TransportClosed
	default:
		return peer.TransportConnecting
	}
}

// SetOutbound adds one sendrecv transceiver per kind. A missing track gets a
// silent placeholder so a later ReplaceVideo needs no renegotiation.
func (c *WebRTCConnection) SetOutbound(audio, video webrtc.TrackLocal) error {
	var err error
	if c.audio, err = c.addSender(webrtc.RTPCodecTypeAudio, audio); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if c.video, err = c.addSender(webrtc.RTPCodecTypeVideo, video); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	return nil
}

func (c *WebRTCConnection) addSender(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	init := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv}
	var (
		tr  *webrtc.RTPTransceiver
		err error
	)
	if track != nil {
		tr, err = c.pc.AddTransceiverFromTrack(track, init)
	} else {
		tr, err = c.pc.AddTransceiverFromKind(kind, init)
	}
	if err != nil {
		return nil, err
	}
	sender := tr.Sender()
	// Interceptors only see RTCP that is read.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (c *WebRTCConnection) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *WebRTCConnection) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) Rollback() error {
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) ReplaceVideo(track webrtc.TrackLocal) error {
	if c.video == nil {
		return ErrNotReady
	}
	return c.video.ReplaceTrack(track)
}

func (c *WebRTCConnection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("remote", string(c.remote)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Msg("closed")
	return nil
}
