// Package devices captures camera, microphone and screen through
// pion/mediadevices. Drivers and encoders are registered by the binary.
package devices

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/client/media"
)

const (
	defaultMTU = 1200
	streamID   = "mesh-local"
)

var ErrNoTrack = errors.New("no track in captured stream")

var (
	opusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// Capturer implements media.Capturer on top of the registered drivers.
type Capturer struct {
	selector *mediadevices.CodecSelector
	Width    int
	Height   int
	FPS      float32
}

func NewCapturer(selector *mediadevices.CodecSelector) *Capturer {
	return &Capturer{selector: selector, Width: 640, Height: 480, FPS: 30}
}

func (c *Capturer) UserMedia(ctx context.Context, audio, video bool) (media.Track, media.Track, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
	if audio {
		constraints.Audio = func(mtc *mediadevices.MediaTrackConstraints) {}
	}
	if video {
		constraints.Video = func(mtc *mediadevices.MediaTrackConstraints) {
			mtc.Width = prop.Int(c.Width)
			mtc.Height = prop.Int(c.Height)
			mtc.FrameRate = prop.Float(c.FPS)
		}
	}
	stream, err := capture(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(constraints)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("get user media: %w", err)
	}

	var a, v media.Track
	if audio {
		t, err := wrapFirst(stream.GetAudioTracks(), opusCodec)
		if err != nil {
			closeAll(stream)
			return nil, nil, fmt.Errorf("audio: %w", err)
		}
		a = t
	}
	if video {
		t, err := wrapFirst(stream.GetVideoTracks(), vp8Codec)
		if err != nil {
			closeAll(stream)
			if a != nil {
				a.Stop()
			}
			return nil, nil, fmt.Errorf("video: %w", err)
		}
		v = t
	}
	log.Info().Str("module", "media.devices").Bool("audio", audio).Bool("video", video).Msg("user media captured")
	return a, v, nil
}

func (c *Capturer) DisplayMedia(ctx context.Context) (media.Track, error) {
	stream, err := capture(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
			Video: func(mtc *mediadevices.MediaTrackConstraints) {
				mtc.FrameRate = prop.Float(c.FPS)
			},
			Codec: c.selector,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get display media: %w", err)
	}
	t, err := wrapFirst(stream.GetVideoTracks(), vp8Codec)
	if err != nil {
		closeAll(stream)
		return nil, err
	}
	log.Info().Str("module", "media.devices").Str("track", t.ID()).Msg("display captured")
	return t, nil
}

// capture runs a blocking driver call; a stream that shows up after ctx
// ended is released.
func capture(ctx context.Context, get func() (mediadevices.MediaStream, error)) (mediadevices.MediaStream, error) {
	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := get()
		done <- result{s, err}
	}()
	select {
	case r := <-done:
		return r.stream, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				closeAll(r.stream)
			}
		}()
		return nil, ctx.Err()
	}
}

func wrapFirst(tracks []mediadevices.Track, codec webrtc.RTPCodecCapability) (*Track, error) {
	if len(tracks) == 0 {
		return nil, ErrNoTrack
	}
	return newTrack(tracks[0], codec, streamID, defaultMTU)
}

func closeAll(stream mediadevices.MediaStream) {
	if stream == nil {
		return
	}
	for _, t := range stream.GetTracks() {
		_ = t.Close()
	}
}
