package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		want State
		ok   bool
	}{
		{StateNew, EventStart, StateNegotiating, true},
		{StateNegotiating, EventConnected, StateConnected, true},
		{StateNegotiating, EventFailed, StateFailed, true},
		{StateConnected, EventFailed, StateFailed, true},
		{StateFailed, EventRestart, StateNegotiating, true},
		{StateNew, EventClose, StateClosed, true},
		{StateConnected, EventClose, StateClosed, true},
		{StateNew, EventConnected, StateNew, false},
		{StateConnected, EventRestart, StateConnected, false},
		{StateFailed, EventConnected, StateFailed, false},
		{StateClosed, EventStart, StateClosed, false},
		{StateClosed, EventClose, StateClosed, false},
	}
	for _, c := range cases {
		got, err := Transition(c.from, c.ev)
		assert.Equal(t, c.want, got, "%s on %s", c.ev, c.from)
		if c.ok {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
}

func TestDecodeSignal(t *testing.T) {
	_, err := DecodeSignal([]byte(`{"type":"offer"}`))
	require.ErrorIs(t, err, ErrSignalApply)
	_, err = DecodeSignal([]byte(`{"type":"candidate"}`))
	require.ErrorIs(t, err, ErrSignalApply)
	_, err = DecodeSignal([]byte(`{"type":"bye"}`))
	require.ErrorIs(t, err, ErrSignalApply)
	_, err = DecodeSignal([]byte(`nope`))
	require.ErrorIs(t, err, ErrSignalApply)

	sig, err := DecodeSignal([]byte(`{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`))
	require.NoError(t, err)
	assert.Equal(t, SignalCandidate, sig.Type)
	assert.Contains(t, sig.Candidate.Candidate, "typ host")

	sig, err = DecodeSignal([]byte(`{"type":"answer","sdp":"v=0"}`))
	require.NoError(t, err)
	assert.Equal(t, "answer", sig.Description().Type.String())
}

func TestLinkErrorUnwraps(t *testing.T) {
	err := linkErr("apply offer", "bob", ErrSignalApply, assert.AnError)
	assert.ErrorIs(t, err, ErrSignalApply)
	assert.Contains(t, err.Error(), "apply offer bob")
}
