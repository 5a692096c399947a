// Package mediatest provides an in-memory media.Capturer for tests.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Mesh/internal/client/media"
)

var ErrDenied = errors.New("permission denied")

type Track struct {
	*webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	stopped bool
	ended   chan struct{}
}

func NewTrack(kind, id string) *Track {
	mime := webrtc.MimeTypeVP8
	if kind == "audio" {
		mime = webrtc.MimeTypeOpus
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "mediatest")
	if err != nil {
		panic(err)
	}
	return &Track{TrackLocalStaticSample: local, enabled: true, ended: make(chan struct{})}
}

func (t *Track) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		close(t.ended)
	}
}

// End simulates the source going away, e.g. "stop sharing" in the OS.
func (t *Track) End() { t.Stop() }

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Track) Ended() <-chan struct{} { return t.ended }

// Capturer hands out fresh tracks and records every request.
type Capturer struct {
	mu          sync.Mutex
	DenyVideo   bool
	DenyAudio   bool
	DenyDisplay bool
	// Hold, when set, runs before a request returns its tracks, with the
	// 1-based index of the request. It lets a test keep a capture in flight.
	Hold     func(call int)
	seq      int
	Requests []string
	Tracks   []*Track
}

func (c *Capturer) UserMedia(_ context.Context, audio, video bool) (media.Track, media.Track, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, fmt.Sprintf("user audio=%t video=%t", audio, video))
	call, hold := len(c.Requests), c.Hold
	if (video && c.DenyVideo) || (audio && c.DenyAudio) {
		c.mu.Unlock()
		return nil, nil, ErrDenied
	}
	var a, v media.Track
	if audio {
		a = c.newTrack("audio", "mic")
	}
	if video {
		v = c.newTrack("video", "camera")
	}
	c.mu.Unlock()
	if hold != nil {
		hold(call)
	}
	return a, v, nil
}

func (c *Capturer) DisplayMedia(context.Context) (media.Track, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, "display")
	call, hold := len(c.Requests), c.Hold
	if c.DenyDisplay {
		c.mu.Unlock()
		return nil, ErrDenied
	}
	t := c.newTrack("video", "screen")
	c.mu.Unlock()
	if hold != nil {
		hold(call)
	}
	return t, nil
}

func (c *Capturer) newTrack(kind, name string) *Track {
	c.seq++
	t := NewTrack(kind, fmt.Sprintf("%s-%d", name, c.seq))
	c.Tracks = append(c.Tracks, t)
	return t
}

func (c *Capturer) RequestLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Requests...)
}

// Created returns every track handed out so far.
func (c *Capturer) Created() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Track(nil), c.Tracks...)
}

// Last returns the most recently created track.
func (c *Capturer) Last() *Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Tracks) == 0 {
		return nil
	}
	return c.Tracks[len(c.Tracks)-1]
}
