// Package session orchestrates one participant: local media, the signaling
// channel and the peer mesh, all driven from a single event loop.
//
// Every state change happens on the loop. Slow work (media acquisition,
// dialing) runs on its own goroutine and re-enters the loop as an event
// tagged with the generation it started in; an event from an older
// generation is discarded. Callbacks in Options run on the loop and must not
// call back into the Session synchronously.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Mesh/internal/client/media"
	"github.com/dkeye/Mesh/internal/client/peer"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
)

var (
	ErrClosed       = errors.New("session closed")
	ErrDisconnected = errors.New("signaling channel lost")
	ErrJoinRejected = errors.New("join rejected")
)

type State int

const (
	StateIdle State = iota
	StateJoining
	StateJoined
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	}
	return "unknown"
}

// Channel is the signaling connection. Incoming is closed when it drops.
type Channel interface {
	Send(msg protocol.Message) error
	Incoming() <-chan protocol.Message
	Close() error
}

type Dialer func(ctx context.Context) (Channel, error)

// Media is the local media owner; *media.Controller implements it.
type Media interface {
	peer.OutboundSource
	Acquire(ctx context.Context) error
	SetSink(sink media.VideoSink)
	State() media.State
	ToggleMute() bool
	ToggleVideo() bool
	ShareScreen(ctx context.Context) error
	StopShare() error
	Stop()
}

// Status is reported on every session state change. Err carries the
// condition that caused it, if any: media.ErrMediaUnavailable while joining
// receive-only, ErrDisconnected or ErrJoinRejected on the way back to idle.
type Status struct {
	State State
	Room  domain.RoomName
	Self  domain.MemberID
	Err   error
}

type Snapshot struct {
	Status
	Media media.State
	Links []peer.LinkInfo
}

type Options struct {
	Dial    Dialer
	Media   Media
	Factory peer.TransportFactory

	NegotiationTimeout time.Duration

	OnStatus      func(Status)
	OnLink        func(peer.LinkInfo)
	OnRemoteTrack func(remote domain.MemberID, track peer.RemoteTrack)
}

type Session struct {
	opts   Options
	events chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// loop-owned
	state  State
	gen    uint64
	room   domain.RoomName
	self   domain.MemberID
	ch     Channel
	mgr    *peer.Manager
	cancel context.CancelFunc
}

func New(opts Options) *Session {
	s := &Session{
		opts:   opts,
		events: make(chan func(), 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if opts.Media != nil {
		opts.Media.SetSink(videoSink{s})
	}
	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case f := <-s.events:
			f()
		case <-s.quit:
			return
		}
	}
}

func (s *Session) dispatch(f func()) bool {
	select {
	case s.events <- f:
		return true
	case <-s.quit:
		return false
	}
}

// do runs f on the loop and waits for it.
func (s *Session) do(f func()) error {
	finished := make(chan struct{})
	if !s.dispatch(func() {
		f()
		close(finished)
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Close leaves the room and stops the loop.
func (s *Session) Close() {
	if s.do(s.leave) != nil {
		return
	}
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() {
		snap.Status = s.status(nil)
		if s.opts.Media != nil {
			snap.Media = s.opts.Media.State()
		}
		if s.mgr != nil {
			snap.Links = s.mgr.Links()
		}
	})
	return snap, err
}

func (s *Session) status(err error) Status {
	return Status{State: s.state, Room: s.room, Self: s.self, Err: err}
}

func (s *Session) setState(st State, err error) {
	s.state = st
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(s.status(err))
	}
}

// videoSink hands track swaps from the media controller to the mesh.
type videoSink struct{ s *Session }

func (v videoSink) ReplaceOutboundVideo(track webrtc.TrackLocal) {
	v.s.dispatch(func() {
		if v.s.mgr != nil {
			v.s.mgr.ReplaceOutboundVideo(track)
		}
	})
}
