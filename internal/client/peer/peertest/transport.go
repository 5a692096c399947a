// Package peertest provides an in-memory peer.Transport for tests.
package peertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Mesh/internal/client/peer"
	"github.com/dkeye/Mesh/internal/domain"
)

var (
	ErrClosed     = errors.New("transport closed")
	ErrWrongState = errors.New("wrong signaling state")
	ErrNoRemote   = errors.New("remote description not set")
)

type signalingState int

const (
	stable signalingState = iota
	haveLocalOffer
)

// Network hands out transports and remembers them by (local, remote).
type Network struct {
	mu         sync.Mutex
	transports map[[2]domain.MemberID][]*Transport
	// FailOffers makes ApplyOffer fail for the next N calls on any transport.
	FailOffers int
}

func NewNetwork() *Network {
	return &Network{transports: make(map[[2]domain.MemberID][]*Transport)}
}

func (n *Network) Factory(local domain.MemberID) peer.TransportFactory {
	return func(remote domain.MemberID, ev peer.TransportEvents) (peer.Transport, error) {
		t := &Transport{net: n, Local: local, Remote: remote, ev: ev}
		n.mu.Lock()
		key := [2]domain.MemberID{local, remote}
		n.transports[key] = append(n.transports[key], t)
		n.mu.Unlock()
		return t, nil
	}
}

// Latest returns the most recent transport local created toward remote.
func (n *Network) Latest(local, remote domain.MemberID) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	ts := n.transports[[2]domain.MemberID{local, remote}]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

// Created counts transports local created toward remote.
func (n *Network) Created(local, remote domain.MemberID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports[[2]domain.MemberID{local, remote}])
}

func (n *Network) takeOfferFailure() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailOffers > 0 {
		n.FailOffers--
		return true
	}
	return false
}

// Transport connects as soon as a full offer/answer round completes on
// its side. Events fire on their own goroutines, as real transports do.
type Transport struct {
	net    *Network
	Local  domain.MemberID
	Remote domain.MemberID
	ev     peer.TransportEvents

	mu         sync.Mutex
	state      signalingState
	remoteSet  bool
	closed     bool
	offers     int
	restarts   int
	rollbacks  int
	audio      webrtc.TrackLocal
	video      webrtc.TrackLocal
	candidates []webrtc.ICECandidateInit
}

func (t *Transport) SetOutbound(audio, video webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audio, t.video = audio, video
	return nil
}

func (t *Transport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	t.offers++
	if iceRestart {
		t.restarts++
	}
	t.state = haveLocalOffer
	sdp := fmt.Sprintf("offer %s->%s #%d", t.Local, t.Remote, t.offers)
	t.emitCandidate(sdp)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}, nil
}

func (t *Transport) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if t.net.takeOfferFailure() {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: injected", ErrWrongState)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if t.state != stable {
		return webrtc.SessionDescription{}, ErrWrongState
	}
	t.remoteSet = true
	sdp := "answer to " + offer.SDP
	t.emitCandidate(sdp)
	t.emitState(peer.TransportConnected)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}, nil
}

func (t *Transport) ApplyAnswer(webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.state != haveLocalOffer {
		return ErrWrongState
	}
	t.state = stable
	t.remoteSet = true
	t.emitState(peer.TransportConnected)
	return nil
}

func (t *Transport) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != haveLocalOffer {
		return ErrWrongState
	}
	t.state = stable
	t.rollbacks++
	return nil
}

func (t *Transport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.remoteSet {
		return ErrNoRemote
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *Transport) ReplaceVideo(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.video = track
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.emitState(peer.TransportClosed)
	return nil
}

// Fail reports an ICE failure, as a dead network path would.
func (t *Transport) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitState(peer.TransportFailed)
}

// Track simulates inbound media.
func (t *Transport) Track(id, stream string, kind webrtc.RTPCodecType) {
	if t.ev.OnTrack != nil {
		go t.ev.OnTrack(remoteTrack{id: id, stream: stream, kind: kind})
	}
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Video() webrtc.TrackLocal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.video
}

func (t *Transport) Audio() webrtc.TrackLocal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audio
}

func (t *Transport) Offers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offers
}

func (t *Transport) Restarts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restarts
}

func (t *Transport) Rollbacks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbacks
}

func (t *Transport) Candidates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.candidates)
}

func (t *Transport) emitCandidate(tag string) {
	if t.ev.OnICECandidate == nil {
		return
	}
	c := webrtc.ICECandidateInit{Candidate: "candidate:" + tag}
	go t.ev.OnICECandidate(c)
}

func (t *Transport) emitState(s peer.TransportState) {
	if t.ev.OnState != nil {
		go t.ev.OnState(s)
	}
}

type remoteTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType
}

func (r remoteTrack) ID() string                { return r.id }
func (r remoteTrack) StreamID() string          { return r.stream }
func (r remoteTrack) Kind() webrtc.RTPCodecType { return r.kind }
