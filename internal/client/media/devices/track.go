package devices

import (
	"errors"
	"image"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateEnded
)

// source is the part of a mediadevices.Track the pump needs.
type source interface {
	ID() string
	Close() error
	OnEnded(func(error))
	NewRTPReader(codecName string, ssrc uint32, mtu int) (mediadevices.RTPReadCloser, error)
}

// videoSource is implemented by *mediadevices.VideoTrack.
type videoSource interface {
	Transform(fns ...video.TransformFunc)
}

// Track pumps RTP packets from a capture source into a local static track.
// A disabled video track keeps sending, with black frames; any other
// disabled track drops its packets.
type Track struct {
	*webrtc.TrackLocalStaticRTP

	src    source
	reader mediadevices.RTPReadCloser
	state  atomic.Int32
	// blanking is set when the source encodes black frames while muted.
	blanking bool

	written atomic.Uint64
	dropped atomic.Uint64

	once  sync.Once
	ended chan struct{}
}

func newTrack(src source, codec webrtc.RTPCodecCapability, streamID string, mtu int) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(codec, src.ID(), streamID)
	if err != nil {
		return nil, err
	}
	name := codec.MimeType
	if parts := strings.SplitN(codec.MimeType, "/", 2); len(parts) == 2 {
		name = parts[1]
	}
	t := &Track{TrackLocalStaticRTP: local, src: src, ended: make(chan struct{})}
	if vs, ok := src.(videoSource); ok {
		vs.Transform(blankWhile(func() bool { return t.GetState() == TrackStateMuted }))
		t.blanking = true
	}
	t.reader, err = src.NewRTPReader(name, rand.Uint32(), mtu)
	if err != nil {
		return nil, err
	}
	src.OnEnded(func(err error) {
		log.Info().Err(err).Str("module", "media.devices").Str("track", src.ID()).Msg("source ended")
		t.Stop()
	})
	go t.loop()
	return t, nil
}

func (t *Track) loop() {
	defer t.Stop()
	for {
		pkts, release, err := t.reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && t.GetState() != TrackStateEnded {
				log.Error().Err(err).Str("module", "media.devices").Str("track", t.ID()).Msg("read RTP error, stopping")
			}
			return
		}
		t.forward(pkts)
		if release != nil {
			release()
		}
	}
}

func (t *Track) forward(pkts []*rtp.Packet) {
	for _, pkt := range pkts {
		if pkt == nil {
			continue
		}
		switch t.GetState() {
		case TrackStateEnded:
			return
		case TrackStateMuted:
			if !t.blanking {
				t.dropped.Add(1)
				continue
			}
			fallthrough
		case TrackStateOk:
			t.write(pkt)
		}
	}
}

func (t *Track) write(pkt *rtp.Packet) {
	if err := t.WriteRTP(pkt); err != nil {
		log.Debug().Err(err).Str("module", "media.devices").Str("track", t.ID()).Msg("write RTP")
	}
	t.written.Add(1)
}

// blankWhile swaps captured frames for black ones of the same size while
// muted reports true.
func blankWhile(muted func() bool) video.TransformFunc {
	return func(r video.Reader) video.Reader {
		var black *image.YCbCr
		return video.ReaderFunc(func() (image.Image, func(), error) {
			img, release, err := r.Read()
			if err != nil || !muted() {
				return img, release, err
			}
			if release != nil {
				release()
			}
			if b := img.Bounds(); black == nil || black.Rect != b {
				black = blackFrame(b)
			}
			return black, func() {}, nil
		})
	}
}

func blackFrame(r image.Rectangle) *image.YCbCr {
	img := image.NewYCbCr(r, image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = 16
	}
	for i := range img.Cb {
		img.Cb[i] = 128
		img.Cr[i] = 128
	}
	return img
}

func (t *Track) GetState() TrackState {
	return TrackState(t.state.Load())
}

func (t *Track) SetEnabled(v bool) {
	if v {
		t.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
		return
	}
	t.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

func (t *Track) Enabled() bool {
	return t.GetState() == TrackStateOk
}

func (t *Track) Stop() {
	t.once.Do(func() {
		t.state.Store(int32(TrackStateEnded))
		_ = t.reader.Close()
		if err := t.src.Close(); err != nil {
			log.Debug().Err(err).Str("module", "media.devices").Str("track", t.ID()).Msg("close source")
		}
		close(t.ended)
	})
}

func (t *Track) Ended() <-chan struct{} { return t.ended }

// Stats reports packets sent and packets dropped while muted.
func (t *Track) Stats() (written, dropped uint64) {
	return t.written.Load(), t.dropped.Load()
}
