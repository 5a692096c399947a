// Package peer manages the mesh of peer connections of one room session.
//
// A Manager is not safe for concurrent use: every method runs on the session
// event loop. Transport callbacks and timers re-enter through
// Options.Dispatch and are discarded once their Link is gone.
package peer

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Mesh/internal/domain"
)

var errNoOffer = errors.New("answer without outstanding offer")

// OutboundSource provides the tracks attached to new links.
type OutboundSource interface {
	OutboundTracks() (audio, video webrtc.TrackLocal)
}

type Options struct {
	Self    domain.MemberID
	Factory TransportFactory
	// Send hands a negotiation payload to the signaling channel.
	Send     func(to domain.MemberID, payload json.RawMessage)
	Media    OutboundSource
	Dispatch func(func())

	NegotiationTimeout time.Duration
	// AfterFunc defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) (stop func() bool)

	OnState       func(LinkInfo)
	OnRemoteTrack func(remote domain.MemberID, track RemoteTrack)
}

type Manager struct {
	opts   Options
	links  map[domain.MemberID]*Link
	closed bool
}

func NewManager(opts Options) *Manager {
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(f func()) { f() }
	}
	return &Manager{opts: opts, links: make(map[domain.MemberID]*Link)}
}

// Ensure returns the link for remote, creating it if absent. An initiator
// sends its offer right away; a responder waits for one.
func (m *Manager) Ensure(remote domain.MemberID, role Role) *Link {
	if m.closed || remote == "" || remote == m.opts.Self {
		return nil
	}
	if l, ok := m.links[remote]; ok {
		return l
	}

	l := &Link{Remote: remote, Role: role, State: StateNew}
	t, err := m.opts.Factory(remote, m.events(l))
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("create transport")
		return nil
	}
	l.transport = t
	if m.opts.Media != nil {
		l.outAudio, l.outVideo = m.opts.Media.OutboundTracks()
	}
	if err := t.SetOutbound(l.outAudio, l.outVideo); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("attach outbound tracks")
		_ = t.Close()
		return nil
	}

	m.links[remote] = l
	log.Info().Str("module", "peer").Str("remote", string(remote)).Str("role", role.String()).Msg("link created")
	m.transition(l, EventStart)
	if role == RoleInitiator {
		m.sendOffer(l, false)
	}
	return m.links[remote]
}

// OnSignal applies a negotiation payload from remote. A payload from an
// unknown member creates a responder link first.
func (m *Manager) OnSignal(remote domain.MemberID, raw json.RawMessage) {
	if m.closed || remote == m.opts.Self {
		return
	}
	sig, err := DecodeSignal(raw)
	if err != nil {
		m.applyFailure(remote, "decode signal", err, nil)
		return
	}
	l := m.Ensure(remote, RoleResponder)
	if l == nil {
		return
	}

	switch sig.Type {
	case SignalOffer:
		m.handleOffer(l, sig, true)
	case SignalAnswer:
		m.handleAnswer(l, sig)
	case SignalCandidate:
		m.handleCandidate(l, *sig.Candidate)
	}
}

// OnTransportFailure restarts ICE once; a second failure destroys the link.
func (m *Manager) OnTransportFailure(remote domain.MemberID) {
	l, ok := m.links[remote]
	if !ok || m.closed {
		return
	}
	if l.restarted {
		log.Warn().Err(linkErr("restart", remote, ErrTransportFailed, nil)).Str("module", "peer").Msg("restart budget spent, destroying link")
		m.destroy(l)
		return
	}
	l.restarted = true
	if m.transition(l, EventFailed) != nil || m.transition(l, EventRestart) != nil {
		m.destroy(l)
		return
	}
	log.Info().Str("module", "peer").Str("remote", string(remote)).Bool("ice_restart", l.haveRemote).Msg("restarting link")
	m.sendOffer(l, l.haveRemote)
}

func (m *Manager) OnRemoteLeave(remote domain.MemberID) {
	if l, ok := m.links[remote]; ok {
		log.Info().Str("module", "peer").Str("remote", string(remote)).Msg("remote left")
		m.destroy(l)
	}
}

// DestroyAll closes every link and waits for the transports to shut down.
// The manager accepts nothing afterwards.
func (m *Manager) DestroyAll() {
	m.closed = true
	var wg conc.WaitGroup
	for _, l := range m.links {
		m.transition(l, EventClose)
		t := l.transport
		remote := l.Remote
		wg.Go(func() {
			if err := t.Close(); err != nil {
				log.Warn().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("close transport")
			}
		})
	}
	m.links = make(map[domain.MemberID]*Link)
	wg.Wait()
	log.Info().Str("module", "peer").Msg("all links destroyed")
}

// ReplaceOutboundVideo swaps the outbound video of every live link. Links
// still negotiating get the swap once they connect.
func (m *Manager) ReplaceOutboundVideo(track webrtc.TrackLocal) {
	for _, l := range m.links {
		if l.State == StateConnected {
			m.swap(l, track)
			continue
		}
		l.swapVideo, l.swapQueued = track, true
		log.Debug().Str("module", "peer").Str("remote", string(l.Remote)).Str("state", l.State.String()).Msg("video swap deferred")
	}
}

func (m *Manager) Link(remote domain.MemberID) (*Link, bool) {
	l, ok := m.links[remote]
	return l, ok
}

func (m *Manager) Len() int { return len(m.links) }

// Links returns a view of every link, ordered by remote id.
func (m *Manager) Links() []LinkInfo {
	out := make([]LinkInfo, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Remote < out[j].Remote })
	return out
}

func (m *Manager) handleOffer(l *Link, sig Signal, retry bool) {
	if l.makingOffer {
		// Glare: the side with the lower id yields.
		if !m.opts.Self.Less(l.Remote) {
			log.Info().Str("module", "peer").Str("remote", string(l.Remote)).Msg("ignoring colliding offer")
			return
		}
		if err := l.transport.Rollback(); err != nil {
			m.applyFailure(l.Remote, "rollback", err, retryOffer(retry, sig))
			return
		}
		l.makingOffer = false
		l.Role = RoleResponder
		log.Info().Str("module", "peer").Str("remote", string(l.Remote)).Msg("offer collision, yielding")
	}

	answer, err := l.transport.ApplyOffer(sig.Description())
	if err != nil {
		m.applyFailure(l.Remote, "apply offer", err, retryOffer(retry, sig))
		return
	}
	l.haveRemote = true
	m.flushCandidates(l)
	m.send(l.Remote, AnswerSignal(answer))
}

func (m *Manager) handleAnswer(l *Link, sig Signal) {
	if !l.makingOffer && l.superseded > 0 {
		l.superseded--
		log.Debug().Str("module", "peer").Str("remote", string(l.Remote)).Msg("dropping answer to a superseded offer")
		return
	}
	if !l.makingOffer {
		m.applyFailure(l.Remote, "apply answer", errNoOffer, nil)
		return
	}
	if err := l.transport.ApplyAnswer(sig.Description()); err != nil {
		m.applyFailure(l.Remote, "apply answer", err, nil)
		return
	}
	l.makingOffer = false
	l.haveRemote = true
	m.flushCandidates(l)
}

// Candidates that arrive before the remote description are held back.
func (m *Manager) handleCandidate(l *Link, c webrtc.ICECandidateInit) {
	if !l.haveRemote {
		l.candidates = append(l.candidates, c)
		return
	}
	m.addCandidate(l, c)
}

func (m *Manager) flushCandidates(l *Link) {
	pending := l.candidates
	l.candidates = nil
	for _, c := range pending {
		m.addCandidate(l, c)
	}
}

func (m *Manager) addCandidate(l *Link, c webrtc.ICECandidateInit) {
	if err := l.transport.AddICECandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.Remote)).Msg("add ice candidate")
	}
}

// applyFailure recreates the link as a responder. A failed offer is applied
// once more to the fresh link.
func (m *Manager) applyFailure(remote domain.MemberID, op string, cause error, offer *Signal) {
	log.Warn().Err(linkErr(op, remote, ErrSignalApply, cause)).Str("module", "peer").Msg("recreating link as responder")
	if l, ok := m.links[remote]; ok {
		m.destroy(l)
	}
	l := m.Ensure(remote, RoleResponder)
	if l != nil && offer != nil {
		m.handleOffer(l, *offer, false)
	}
}

func retryOffer(retry bool, sig Signal) *Signal {
	if !retry {
		return nil
	}
	return &sig
}

func (m *Manager) sendOffer(l *Link, iceRestart bool) {
	if l.makingOffer {
		l.superseded++
	}
	offer, err := l.transport.CreateOffer(iceRestart)
	if err != nil {
		log.Error().Err(linkErr("create offer", l.Remote, ErrTransportFailed, err)).Str("module", "peer").Msg("destroying link")
		m.destroy(l)
		return
	}
	l.makingOffer = true
	m.send(l.Remote, OfferSignal(offer))
}

func (m *Manager) send(to domain.MemberID, sig Signal) {
	raw, err := sig.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("encode signal")
		return
	}
	m.opts.Send(to, raw)
}

func (m *Manager) swap(l *Link, track webrtc.TrackLocal) {
	if err := l.transport.ReplaceVideo(track); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.Remote)).Msg("replace video, will retry on next connect")
		l.swapVideo, l.swapQueued = track, true
		return
	}
	l.outVideo = track
	l.swapVideo, l.swapQueued = nil, false
}

func (m *Manager) onTransportState(l *Link, s TransportState) {
	log.Debug().Str("module", "peer").Str("remote", string(l.Remote)).Str("transport", s.String()).Msg("transport state")
	switch s {
	case TransportConnected:
		l.restarted = false
		if l.State == StateNegotiating {
			m.transition(l, EventConnected)
		}
		if l.swapQueued {
			m.swap(l, l.swapVideo)
		}
	case TransportFailed:
		m.OnTransportFailure(l.Remote)
	case TransportClosed:
		log.Info().Err(linkErr("transport", l.Remote, ErrTransportClosed, nil)).Str("module", "peer").Msg("destroying link")
		m.destroy(l)
	case TransportConnecting, TransportDisconnected:
		// The ICE agent either recovers or reports failed.
	}
}

func (m *Manager) events(l *Link) TransportEvents {
	return TransportEvents{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			m.opts.Dispatch(func() {
				if m.current(l) {
					m.send(l.Remote, CandidateSignal(c))
				}
			})
		},
		OnState: func(s TransportState) {
			m.opts.Dispatch(func() {
				if m.current(l) {
					m.onTransportState(l, s)
				}
			})
		},
		OnTrack: func(t RemoteTrack) {
			m.opts.Dispatch(func() {
				if m.current(l) && m.opts.OnRemoteTrack != nil {
					m.opts.OnRemoteTrack(l.Remote, t)
				}
			})
		},
	}
}

func (m *Manager) current(l *Link) bool {
	return !m.closed && m.links[l.Remote] == l
}

func (m *Manager) transition(l *Link, ev Event) error {
	next, err := Transition(l.State, ev)
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.Remote)).Msg("transition")
		return err
	}
	prev := l.State
	l.State = next
	if next == StateNegotiating {
		m.arm(l)
	} else {
		l.disarm()
	}
	if prev != next {
		log.Info().Str("module", "peer").Str("remote", string(l.Remote)).Str("from", prev.String()).Str("state", next.String()).Msg("link state")
		if m.opts.OnState != nil {
			m.opts.OnState(l.Info())
		}
	}
	return nil
}

// arm starts the negotiation timeout; expiry counts as a transport failure.
func (m *Manager) arm(l *Link) {
	l.disarm()
	if m.opts.NegotiationTimeout <= 0 {
		return
	}
	epoch := l.epoch
	l.stopTimer = m.opts.AfterFunc(m.opts.NegotiationTimeout, func() {
		m.opts.Dispatch(func() {
			if !m.current(l) || l.epoch != epoch || l.State != StateNegotiating {
				return
			}
			log.Warn().Str("module", "peer").Str("remote", string(l.Remote)).Msg("negotiation timed out")
			m.OnTransportFailure(l.Remote)
		})
	})
}

func (m *Manager) destroy(l *Link) {
	if l.State == StateClosed {
		return
	}
	m.transition(l, EventClose)
	if m.links[l.Remote] == l {
		delete(m.links, l.Remote)
	}
	t := l.transport
	go func() {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.Remote)).Msg("close transport")
		}
	}()
}
