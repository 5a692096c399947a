// Package media owns the local capture tracks of a participant and the
// LocalMediaState derived from them.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrMediaUnavailable is surfaced only after every acquisition fallback failed.
	ErrMediaUnavailable = errors.New("media unavailable")
	ErrNotSharing       = errors.New("not sharing")

	// ErrSuperseded is returned by a capture that a later Stop or Acquire
	// overtook; its tracks have already been released.
	ErrSuperseded = errors.New("capture superseded")
)

type Mode int

const (
	ModeNone Mode = iota
	ModeAudioOnly
	ModeCamera
)

func (m Mode) String() string {
	switch m {
	case ModeAudioOnly:
		return "audio-only"
	case ModeCamera:
		return "camera"
	}
	return "none"
}

// State is the LocalMediaState.
type State struct {
	Mode         Mode `json:"mode"`
	Muted        bool `json:"muted"`
	VideoEnabled bool `json:"video_enabled"`
	Sharing      bool `json:"sharing"`
}

// Track is a local capture track. A disabled track keeps flowing as
// silence or black frames, so peers never renegotiate for mute.
type Track interface {
	webrtc.TrackLocal
	SetEnabled(bool)
	Enabled() bool
	Stop()
	// Ended is closed once the track is stopped, locally or by the source
	// itself (the user ends a screen share from the OS).
	Ended() <-chan struct{}
}

// Capturer is the media-capture provider.
type Capturer interface {
	UserMedia(ctx context.Context, audio, video bool) (audioTrack, videoTrack Track, err error)
	DisplayMedia(ctx context.Context) (Track, error)
}

// VideoSink receives outbound video replacements, normally the peer manager.
type VideoSink interface {
	ReplaceOutboundVideo(track webrtc.TrackLocal)
}
