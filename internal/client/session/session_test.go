package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Mesh/internal/client/media"
	"github.com/dkeye/Mesh/internal/client/media/mediatest"
	"github.com/dkeye/Mesh/internal/client/peer/peertest"
	"github.com/dkeye/Mesh/internal/client/session"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
)

const waitFor = 2 * time.Second

type fakeChannel struct {
	mu     sync.Mutex
	sent   []protocol.Message
	in     chan protocol.Message
	closed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{in: make(chan protocol.Message, 16)}
}

func (c *fakeChannel) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Incoming() <-chan protocol.Message { return c.in }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) types() []protocol.MessageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.MessageType
	for _, m := range c.sent {
		out = append(out, m.Type)
	}
	return out
}

func (c *fakeChannel) find(typ protocol.MessageType) (protocol.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.sent {
		if m.Type == typ {
			return m, true
		}
	}
	return protocol.Message{}, false
}

type harness struct {
	s     *session.Session
	ch    *fakeChannel
	capt  *mediatest.Capturer
	ctl   *media.Controller
	dials int
	gate  chan struct{}

	mu       sync.Mutex
	statuses []session.Status
}

func newHarness(t *testing.T, capt *mediatest.Capturer, gated bool) *harness {
	t.Helper()
	h := &harness{ch: newFakeChannel(), capt: capt}
	if gated {
		h.gate = make(chan struct{})
	}
	h.ctl = media.NewController(capt)
	net := peertest.NewNetwork()
	h.s = session.New(session.Options{
		Dial: func(ctx context.Context) (session.Channel, error) {
			h.mu.Lock()
			h.dials++
			h.mu.Unlock()
			if h.gate != nil {
				<-h.gate
			}
			return h.ch, nil
		},
		Media:   h.ctl,
		Factory: net.Factory("self"),
		OnStatus: func(st session.Status) {
			h.mu.Lock()
			h.statuses = append(h.statuses, st)
			h.mu.Unlock()
		},
	})
	t.Cleanup(h.s.Close)
	return h
}

func (h *harness) state(t *testing.T) session.State {
	snap, err := h.s.Snapshot()
	require.NoError(t, err)
	return snap.State
}

func (h *harness) waitState(t *testing.T, want session.State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.state(t) == want }, waitFor, 5*time.Millisecond)
}

func (h *harness) lastStatus() session.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statuses[len(h.statuses)-1]
}

func (h *harness) dialCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// joined drives the handshake up to the peers message.
func (h *harness) joined(t *testing.T, peers ...domain.MemberID) {
	t.Helper()
	require.NoError(t, h.s.Join("room"))
	require.Eventually(t, func() bool { return h.dialCount() == 1 }, waitFor, 5*time.Millisecond)
	h.ch.in <- protocol.Welcome("m")
	require.Eventually(t, func() bool {
		_, ok := h.ch.find(protocol.TypeJoin)
		return ok
	}, waitFor, 5*time.Millisecond)
	h.ch.in <- protocol.Peers(peers)
	h.waitState(t, session.StateJoined)
}

func TestJoinHandshake(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{}, false)
	h.joined(t, "x", "y")

	join, _ := h.ch.find(protocol.TypeJoin)
	assert.EqualValues(t, "room", join.Room)
	assert.Equal(t, []string{"user audio=true video=true"}, h.capt.RequestLog(), "media acquired before join")

	snap, err := h.s.Snapshot()
	require.NoError(t, err)
	assert.EqualValues(t, "m", snap.Self)
	assert.EqualValues(t, "room", snap.Room)
	assert.Equal(t, media.ModeCamera, snap.Media.Mode)
	require.Len(t, snap.Links, 2)
	assert.Equal(t, "initiator", snap.Links[0].Role)

	require.Eventually(t, func() bool {
		n := 0
		for _, typ := range h.ch.types() {
			if typ == protocol.TypeSignal {
				n++
			}
		}
		return n >= 2
	}, waitFor, 5*time.Millisecond, "one offer per existing member")
	sig, _ := h.ch.find(protocol.TypeSignal)
	assert.EqualValues(t, "room", sig.Room)
}

func TestMembershipNotificationsDriveLinks(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{}, false)
	h.joined(t)

	h.ch.in <- protocol.UserJoined("z")
	require.Eventually(t, func() bool {
		snap, _ := h.s.Snapshot()
		return len(snap.Links) == 1 && snap.Links[0].Role == "responder"
	}, waitFor, 5*time.Millisecond)

	h.ch.in <- protocol.UserLeft("z")
	require.Eventually(t, func() bool {
		snap, _ := h.s.Snapshot()
		return len(snap.Links) == 0
	}, waitFor, 5*time.Millisecond)
}

func TestJoinWhileJoiningIsNoop(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{}, true)
	require.NoError(t, h.s.Join("room"))
	require.NoError(t, h.s.Join("other"))
	close(h.gate)

	require.Eventually(t, func() bool { return h.dialCount() == 1 }, waitFor, 5*time.Millisecond)
	snap, err := h.s.Snapshot()
	require.NoError(t, err)
	assert.EqualValues(t, "room", snap.Room)
	assert.Equal(t, session.StateJoining, snap.State)
}

func TestLeaveDiscardsInFlightJoin(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{}, true)
	require.NoError(t, h.s.Join("room"))
	require.Eventually(t, func() bool { return h.dialCount() == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, h.s.Leave())
	assert.Equal(t, session.StateIdle, h.state(t))

	close(h.gate)
	require.Eventually(t, h.ch.isClosed, waitFor, 5*time.Millisecond, "late channel is closed, not adopted")
	assert.Equal(t, session.StateIdle, h.state(t))
	assert.Empty(t, h.ch.types())
}

func TestLeaveThenJoinDiscardsInFlightMedia(t *testing.T) {
	capt := &mediatest.Capturer{}
	started, release := make(chan struct{}), make(chan struct{})
	capt.Hold = func(call int) {
		if call == 1 {
			close(started)
			<-release
		}
	}
	h := newHarness(t, capt, false)

	require.NoError(t, h.s.Join("room"))
	<-started
	require.NoError(t, h.s.Leave())
	h.joined(t, "x")
	close(release)

	require.Eventually(t, func() bool {
		created := capt.Created()
		return created[0].Stopped() && created[1].Stopped()
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, h.dialCount(), "overtaken join never dials")
	assert.Equal(t, session.StateJoined, h.state(t))

	var live []webrtc.TrackLocal
	for _, tr := range capt.Created() {
		if !tr.Stopped() {
			live = append(live, tr)
		}
	}
	audio, video := h.ctl.OutboundTracks()
	assert.Equal(t, []webrtc.TrackLocal{audio, video}, live)
}

func TestLeaveFromIdleIsNoop(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{}, false)
	require.NoError(t, h.s.Leave())
	require.NoError(t, h.s.Leave())
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.statuses)
}

func TestLeaveTearsDown(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{}, false)
	h.joined(t, "x")

	require.NoError(t, h.s.Leave())
	snap, err := h.s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, session.StateIdle, snap.State)
	assert.Empty(t, snap.Links)
	assert.Equal(t, media.ModeNone, snap.Media.Mode)
	assert.True(t, h.ch.isClosed())
	for _, tr := range h.capt.Tracks {
		assert.True(t, tr.Stopped(), tr.ID())
	}
}

func TestMediaUnavailableStillJoins(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{DenyAudio: true, DenyVideo: true}, false)
	h.joined(t, "x")

	h.mu.Lock()
	var sawUnavailable bool
	for _, st := range h.statuses {
		if errors.Is(st.Err, media.ErrMediaUnavailable) {
			sawUnavailable = true
		}
	}
	h.mu.Unlock()
	assert.True(t, sawUnavailable)

	snap, err := h.s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Links, 1, "receive-only links are still built")
}

func TestJoinRejected(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{}, false)
	require.NoError(t, h.s.Join("room"))
	require.Eventually(t, func() bool { return h.dialCount() == 1 }, waitFor, 5*time.Millisecond)
	h.ch.in <- protocol.Welcome("m")
	h.ch.in <- protocol.Errorf("rate limited")

	h.waitState(t, session.StateIdle)
	assert.ErrorIs(t, h.lastStatus().Err, session.ErrJoinRejected)
}

func TestChannelLossReturnsToIdle(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{}, false)
	h.joined(t, "x")

	require.NoError(t, h.ch.Close())
	h.waitState(t, session.StateIdle)
	assert.ErrorIs(t, h.lastStatus().Err, session.ErrDisconnected)
	assert.Equal(t, media.ModeNone, h.ctl.State().Mode)
}

func TestRejoinReannounces(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{}, false)
	h.joined(t, "x")

	require.NoError(t, h.s.Rejoin())
	require.Eventually(t, func() bool {
		types := h.ch.types()
		n := len(types)
		return n >= 2 && types[n-2] == protocol.TypeLeave && types[n-1] == protocol.TypeJoin
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, session.StateJoining, h.state(t))
	assert.Len(t, h.capt.RequestLog(), 2, "media ladder ran again")

	h.ch.in <- protocol.Peers([]domain.MemberID{"y"})
	h.waitState(t, session.StateJoined)
	snap, err := h.s.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Links, 1)
	assert.EqualValues(t, "y", snap.Links[0].Remote)
}

func TestInvalidRoomName(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{}, false)
	assert.Error(t, h.s.Join(""))
	assert.Equal(t, session.StateIdle, h.state(t))
}

func TestClosedSession(t *testing.T) {
	h := newHarness(t, &mediatest.Capturer{}, false)
	h.s.Close()
	_, err := h.s.Snapshot()
	assert.ErrorIs(t, err, session.ErrClosed)
	assert.ErrorIs(t, h.s.Join("room"), session.ErrClosed)
}
