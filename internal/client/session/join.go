package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/client/media"
	"github.com/dkeye/Mesh/internal/client/peer"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
)

// Join enters room. It returns once the attempt has started; progress is
// reported through Options.OnStatus. Joining while already joining or joined
// is a no-op.
func (s *Session) Join(room string) error {
	name, err := domain.ParseRoomName(room)
	if err != nil {
		return err
	}
	return s.do(func() {
		if s.state != StateIdle {
			log.Debug().Str("module", "session").Str("room", string(name)).Str("state", s.state.String()).Msg("join ignored")
			return
		}
		s.room = name
		s.gen++
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.setState(StateJoining, nil)
		go s.connect(ctx, s.gen)
	})
}

// connect acquires media before dialing so the first offer already carries
// the local tracks. A media failure only makes the session receive-only.
func (s *Session) connect(ctx context.Context, gen uint64) {
	mediaErr := s.acquire(ctx)
	if ctx.Err() != nil {
		// Left while acquiring; the controller already dropped what it captured.
		return
	}

	ch, err := s.opts.Dial(ctx)
	s.dispatch(func() {
		if s.gen != gen {
			if err == nil {
				_ = ch.Close()
			}
			// Tracks acquired after a leave would otherwise stay open.
			if s.state == StateIdle && s.opts.Media != nil {
				s.opts.Media.Stop()
			}
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "session").Str("room", string(s.room)).Msg("dial failed")
			s.teardown(err)
			return
		}
		s.ch = ch
		go s.pump(ch)
		if mediaErr != nil {
			s.setState(StateJoining, mediaErr)
		}
	})
}

func (s *Session) acquire(ctx context.Context) error {
	if s.opts.Media == nil {
		return nil
	}
	err := s.opts.Media.Acquire(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("joining without local media")
	}
	return err
}

// pump feeds channel messages into the loop until the channel drops.
// Messages from a channel the session no longer holds are discarded.
func (s *Session) pump(ch Channel) {
	for msg := range ch.Incoming() {
		if !s.dispatch(func() {
			if s.ch == ch {
				s.handle(msg)
			}
		}) {
			return
		}
	}
	s.dispatch(func() {
		if s.ch == ch {
			log.Warn().Str("module", "session").Str("room", string(s.room)).Msg("signaling channel lost")
			s.teardown(ErrDisconnected)
		}
	})
}

func (s *Session) handle(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeWelcome:
		if s.self != "" {
			return
		}
		s.self = msg.ID
		log.Info().Str("module", "session").Str("self", string(s.self)).Msg("welcome")
		s.announce()
	case protocol.TypePeers:
		if s.state != StateJoining || s.mgr == nil {
			return
		}
		s.setState(StateJoined, nil)
		for _, id := range msg.Peers {
			s.mgr.Ensure(id, peer.RoleInitiator)
		}
	case protocol.TypeUserJoined:
		if s.mgr != nil {
			s.mgr.Ensure(msg.ID, peer.RoleResponder)
		}
	case protocol.TypeUserLeft:
		if s.mgr != nil {
			s.mgr.OnRemoteLeave(msg.ID)
		}
	case protocol.TypeSignal:
		if s.mgr != nil {
			s.mgr.OnSignal(msg.From, msg.Data)
		}
	case protocol.TypeError:
		log.Warn().Str("module", "session").Str("error", msg.Error).Msg("relay error")
		if s.state == StateJoining {
			s.teardown(fmt.Errorf("%w: %s", ErrJoinRejected, msg.Error))
		}
	}
}

// announce builds a fresh mesh and sends join on the open channel.
func (s *Session) announce() {
	ch, room := s.ch, s.room
	s.mgr = peer.NewManager(peer.Options{
		Self:    s.self,
		Factory: s.opts.Factory,
		Send: func(to domain.MemberID, payload json.RawMessage) {
			msg := protocol.Message{Type: protocol.TypeSignal, To: to, Room: room, Data: payload}
			if err := ch.Send(msg); err != nil {
				log.Warn().Err(err).Str("module", "session").Str("remote", string(to)).Msg("signal not sent")
			}
		},
		Media:              s.opts.Media,
		Dispatch:           func(f func()) { s.dispatch(f) },
		NegotiationTimeout: s.opts.NegotiationTimeout,
		OnState:            s.opts.OnLink,
		OnRemoteTrack:      s.opts.OnRemoteTrack,
	})
	if err := ch.Send(protocol.Message{Type: protocol.TypeJoin, Room: room}); err != nil {
		s.teardown(err)
	}
}

// Rejoin drops every peer link, reacquires local media and re-announces
// membership on the open channel.
func (s *Session) Rejoin() error {
	return s.do(func() {
		if s.state != StateJoined {
			return
		}
		s.gen++
		gen := s.gen
		s.mgr.DestroyAll()
		s.mgr = nil
		ch := s.ch
		if s.cancel != nil {
			s.cancel()
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.setState(StateJoining, nil)

		go func() {
			mediaErr := s.acquire(ctx)
			s.dispatch(func() {
				if s.gen != gen {
					return
				}
				if mediaErr != nil {
					s.setState(StateJoining, mediaErr)
				}
				if err := ch.Send(protocol.Message{Type: protocol.TypeLeave}); err != nil {
					s.teardown(err)
					return
				}
				s.announce()
			})
		}()
	})
}

// Leave tears down in reverse order of Join. It is safe from any state.
func (s *Session) Leave() error {
	return s.do(s.leave)
}

func (s *Session) leave() {
	if s.state == StateIdle {
		return
	}
	s.setState(StateLeaving, nil)
	s.teardown(nil)
}

func (s *Session) teardown(cause error) {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.mgr != nil {
		s.mgr.DestroyAll()
		s.mgr = nil
	}
	if s.opts.Media != nil {
		s.opts.Media.Stop()
	}
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	s.self = ""
	s.setState(StateIdle, cause)
	s.room = ""
	if cause != nil && !errors.Is(cause, media.ErrMediaUnavailable) {
		log.Info().Err(cause).Str("module", "session").Msg("session ended")
	}
}
