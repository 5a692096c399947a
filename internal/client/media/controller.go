package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const reacquireTimeout = 10 * time.Second

// Controller is the single owner of local tracks. Track replacements are
// pushed to the VideoSink, which applies them to every peer link at once.
type Controller struct {
	capturer Capturer

	mu     sync.Mutex
	sink   VideoSink
	state  State
	audio  Track
	camera Track
	screen Track
	// gen changes on every track set change; stale share watchers and
	// overtaken captures check it.
	gen uint64
	// sharePending is set while a display capture is in flight.
	sharePending bool
	onChange     func(State)
}

func NewController(capturer Capturer) *Controller {
	return &Controller{capturer: capturer}
}

// SetSink replaces the receiver of video swaps; nil detaches it.
func (c *Controller) SetSink(sink VideoSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OutboundTracks returns what a new peer link should send: the screen while
// sharing, the camera otherwise.
func (c *Controller) OutboundTracks() (audio, video webrtc.TrackLocal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.audio != nil {
		audio = c.audio
	}
	switch {
	case c.screen != nil:
		video = c.screen
	case c.camera != nil:
		video = c.camera
	}
	return audio, video
}

// Acquire runs the fallback ladder: camera and microphone, then microphone
// only. Previously held tracks are released first. Tracks captured after ctx
// is done, or after a later Stop or Acquire, are released instead of kept.
func (c *Controller) Acquire(ctx context.Context) error {
	c.Stop()
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	audio, video, err := c.capturer.UserMedia(ctx, true, true)
	if err == nil {
		if err := c.install(ctx, gen, audio, video, ModeCamera); err != nil {
			return err
		}
		log.Info().Str("module", "media").Msg("acquired camera and microphone")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Warn().Err(err).Str("module", "media").Msg("camera+mic denied, trying microphone only")

	audio, _, err2 := c.capturer.UserMedia(ctx, true, false)
	if err2 == nil {
		if err := c.install(ctx, gen, audio, nil, ModeAudioOnly); err != nil {
			return err
		}
		log.Info().Str("module", "media").Msg("acquired microphone only")
		return nil
	}
	log.Warn().Err(err2).Str("module", "media").Msg("microphone denied")
	c.notify()
	return fmt.Errorf("%w: camera+mic: %v; mic: %v", ErrMediaUnavailable, err, err2)
}

func (c *Controller) install(ctx context.Context, gen uint64, audio, video Track, mode Mode) error {
	c.mu.Lock()
	if c.gen != gen || ctx.Err() != nil {
		c.mu.Unlock()
		stopAll(audio, video)
		log.Debug().Str("module", "media").Msg("discarding overtaken capture")
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrSuperseded
	}
	c.gen++
	c.audio, c.camera = audio, video
	c.state = State{Mode: mode, VideoEnabled: video != nil}
	c.mu.Unlock()
	c.notify()
	return nil
}

func stopAll(tracks ...Track) {
	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
}

func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	if c.audio == nil {
		muted := c.state.Muted
		c.mu.Unlock()
		return muted
	}
	c.state.Muted = !c.state.Muted
	c.audio.SetEnabled(!c.state.Muted)
	muted := c.state.Muted
	c.mu.Unlock()
	c.notify()
	return muted
}

func (c *Controller) ToggleVideo() bool {
	c.mu.Lock()
	if c.state.Mode != ModeCamera {
		enabled := c.state.VideoEnabled
		c.mu.Unlock()
		return enabled
	}
	c.state.VideoEnabled = !c.state.VideoEnabled
	if c.camera != nil {
		c.camera.SetEnabled(c.state.VideoEnabled)
	}
	enabled := c.state.VideoEnabled
	c.mu.Unlock()
	c.notify()
	return enabled
}

// ShareScreen swaps the outbound video for a display capture. When the
// display source ends by itself the camera is reacquired automatically.
// Only one capture runs at a time; overlapping calls return nil at once.
func (c *Controller) ShareScreen(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Sharing || c.sharePending {
		c.mu.Unlock()
		return nil
	}
	c.sharePending = true
	gen := c.gen
	c.mu.Unlock()

	screen, err := c.capturer.DisplayMedia(ctx)

	c.mu.Lock()
	c.sharePending = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("display capture: %w", err)
	}
	if c.gen != gen {
		c.mu.Unlock()
		screen.Stop()
		return ErrSuperseded
	}
	c.gen++
	gen = c.gen
	if c.camera != nil {
		c.camera.Stop()
		c.camera = nil
	}
	c.screen = screen
	c.state.Sharing = true
	sink := c.sink
	c.mu.Unlock()

	log.Info().Str("module", "media").Str("track", screen.ID()).Msg("screen share started")
	if sink != nil {
		sink.ReplaceOutboundVideo(screen)
	}
	c.notify()

	go func() {
		<-screen.Ended()
		log.Info().Str("module", "media").Msg("screen source ended")
		c.revert(gen)
	}()
	return nil
}

func (c *Controller) StopShare() error {
	c.mu.Lock()
	if !c.state.Sharing {
		c.mu.Unlock()
		return ErrNotSharing
	}
	gen := c.gen
	c.mu.Unlock()
	c.revert(gen)
	return nil
}

// revert ends the share started at gen and goes back to the camera.
func (c *Controller) revert(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || !c.state.Sharing {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen = c.gen
	screen := c.screen
	c.screen = nil
	c.state.Sharing = false
	wantCamera := c.state.Mode == ModeCamera
	c.mu.Unlock()
	screen.Stop()

	var camera Track
	if wantCamera {
		ctx, cancel := context.WithTimeout(context.Background(), reacquireTimeout)
		_, video, err := c.capturer.UserMedia(ctx, false, true)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("camera reacquire failed")
		} else {
			camera = video
		}
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if camera != nil {
			camera.Stop()
		}
		return
	}
	c.camera = camera
	if camera == nil && c.state.Mode == ModeCamera {
		c.state.Mode = ModeAudioOnly
		if c.audio == nil {
			c.state.Mode = ModeNone
		}
		c.state.VideoEnabled = false
	}
	if camera != nil {
		camera.SetEnabled(c.state.VideoEnabled)
	}
	sink := c.sink
	c.mu.Unlock()

	var out webrtc.TrackLocal
	if camera != nil {
		out = camera
	}
	log.Info().Str("module", "media").Bool("camera", camera != nil).Msg("screen share ended")
	if sink != nil {
		sink.ReplaceOutboundVideo(out)
	}
	c.notify()
}

// Stop releases every local track.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.gen++
	tracks := []Track{c.audio, c.camera, c.screen}
	c.audio, c.camera, c.screen = nil, nil, nil
	changed := c.state != State{}
	c.state = State{}
	c.mu.Unlock()

	stopAll(tracks...)
	if changed {
		c.notify()
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn, st := c.onChange, c.state
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
