package media_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Mesh/internal/client/media"
	"github.com/dkeye/Mesh/internal/client/media/mediatest"
)

type sink struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal
}

func (s *sink) ReplaceOutboundVideo(t webrtc.TrackLocal) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *sink) all() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

func TestAcquireLadder(t *testing.T) {
	t.Run("camera", func(t *testing.T) {
		capt := &mediatest.Capturer{}
		c := media.NewController(capt)
		require.NoError(t, c.Acquire(context.Background()))
		assert.Equal(t, media.State{Mode: media.ModeCamera, VideoEnabled: true}, c.State())
		audio, video := c.OutboundTracks()
		assert.NotNil(t, audio)
		assert.NotNil(t, video)
		assert.Len(t, capt.RequestLog(), 1)
	})

	t.Run("audio only", func(t *testing.T) {
		capt := &mediatest.Capturer{DenyVideo: true}
		c := media.NewController(capt)
		require.NoError(t, c.Acquire(context.Background()))
		assert.Equal(t, media.ModeAudioOnly, c.State().Mode)
		assert.False(t, c.State().VideoEnabled)
		_, video := c.OutboundTracks()
		assert.Nil(t, video)
		assert.Equal(t, []string{"user audio=true video=true", "user audio=true video=false"}, capt.RequestLog())
	})

	t.Run("unavailable only after both attempts", func(t *testing.T) {
		capt := &mediatest.Capturer{DenyAudio: true}
		c := media.NewController(capt)
		err := c.Acquire(context.Background())
		require.ErrorIs(t, err, media.ErrMediaUnavailable)
		assert.Len(t, capt.RequestLog(), 2)
		assert.Equal(t, media.ModeNone, c.State().Mode)
		audio, video := c.OutboundTracks()
		assert.Nil(t, audio)
		assert.Nil(t, video)
	})
}

func TestToggleKeepsTracks(t *testing.T) {
	capt := &mediatest.Capturer{}
	c := media.NewController(capt)
	require.NoError(t, c.Acquire(context.Background()))
	mic, cam := capt.Tracks[0], capt.Tracks[1]

	assert.True(t, c.ToggleMute())
	assert.False(t, mic.Enabled())
	assert.False(t, mic.Stopped())
	assert.False(t, c.ToggleMute())
	assert.True(t, mic.Enabled())

	assert.False(t, c.ToggleVideo())
	assert.False(t, cam.Enabled())
	assert.False(t, cam.Stopped())
	assert.True(t, c.ToggleVideo())
	assert.True(t, cam.Enabled())
}

func TestToggleVideoAudioOnlyIsNoop(t *testing.T) {
	c := media.NewController(&mediatest.Capturer{DenyVideo: true})
	require.NoError(t, c.Acquire(context.Background()))
	assert.False(t, c.ToggleVideo())
	assert.False(t, c.State().VideoEnabled)
}

func TestShareScreenRevertsWhenSourceEnds(t *testing.T) {
	capt := &mediatest.Capturer{}
	s := &sink{}
	c := media.NewController(capt)
	c.SetSink(s)
	require.NoError(t, c.Acquire(context.Background()))
	oldCam := capt.Tracks[1]

	require.NoError(t, c.ShareScreen(context.Background()))
	screen := capt.Last()
	assert.True(t, c.State().Sharing)
	assert.True(t, oldCam.Stopped())
	_, video := c.OutboundTracks()
	assert.Equal(t, webrtc.TrackLocal(screen), video)

	screen.End()

	require.Eventually(t, func() bool { return len(s.all()) == 2 }, time.Second, 5*time.Millisecond)
	newCam := capt.Last()
	assert.NotSame(t, oldCam, newCam)
	assert.Equal(t, []webrtc.TrackLocal{screen, newCam}, s.all())
	assert.Equal(t, media.State{Mode: media.ModeCamera, VideoEnabled: true}, c.State())
	_, video = c.OutboundTracks()
	assert.Equal(t, webrtc.TrackLocal(newCam), video)
	assert.Equal(t, "user audio=false video=true", capt.RequestLog()[len(capt.RequestLog())-1])
}

func TestStopShare(t *testing.T) {
	capt := &mediatest.Capturer{}
	s := &sink{}
	c := media.NewController(capt)
	c.SetSink(s)
	require.NoError(t, c.Acquire(context.Background()))

	require.ErrorIs(t, c.StopShare(), media.ErrNotSharing)
	require.NoError(t, c.ShareScreen(context.Background()))
	require.NoError(t, c.ShareScreen(context.Background()), "second share is a no-op")
	screen := capt.Last()

	require.NoError(t, c.StopShare())
	assert.True(t, screen.Stopped())
	assert.False(t, c.State().Sharing)

	// The watcher sees the stopped screen but the share is already over.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, s.all(), 2)
}

func TestShareKeepsVideoToggleAcrossRevert(t *testing.T) {
	capt := &mediatest.Capturer{}
	c := media.NewController(capt)
	require.NoError(t, c.Acquire(context.Background()))
	c.ToggleVideo()

	require.NoError(t, c.ShareScreen(context.Background()))
	require.NoError(t, c.StopShare())
	assert.False(t, capt.Last().Enabled())
	assert.False(t, c.State().VideoEnabled)
}

func TestRevertWithoutCameraFallsBackToAudio(t *testing.T) {
	capt := &mediatest.Capturer{}
	s := &sink{}
	c := media.NewController(capt)
	c.SetSink(s)
	require.NoError(t, c.Acquire(context.Background()))
	require.NoError(t, c.ShareScreen(context.Background()))

	capt.DenyVideo = true
	require.NoError(t, c.StopShare())
	assert.Equal(t, media.ModeAudioOnly, c.State().Mode)
	tracks := s.all()
	require.Len(t, tracks, 2)
	assert.Nil(t, tracks[1])
}

func TestShareDenied(t *testing.T) {
	c := media.NewController(&mediatest.Capturer{DenyDisplay: true})
	require.NoError(t, c.Acquire(context.Background()))
	require.ErrorIs(t, c.ShareScreen(context.Background()), mediatest.ErrDenied)
	assert.False(t, c.State().Sharing)
}

func TestStopReleasesEverything(t *testing.T) {
	capt := &mediatest.Capturer{}
	c := media.NewController(capt)
	var states []media.State
	c.OnChange(func(s media.State) { states = append(states, s) })
	require.NoError(t, c.Acquire(context.Background()))
	require.NoError(t, c.ShareScreen(context.Background()))

	c.Stop()
	for _, tr := range capt.Tracks {
		assert.True(t, tr.Stopped(), tr.ID())
	}
	assert.Equal(t, media.State{}, c.State())
	require.NotEmpty(t, states)
	assert.Equal(t, media.State{}, states[len(states)-1])
}

// holdCall parks the given capture request until release is closed.
func holdCall(capt *mediatest.Capturer, call int) (started, release chan struct{}) {
	started, release = make(chan struct{}), make(chan struct{})
	capt.Hold = func(n int) {
		if n == call {
			close(started)
			<-release
		}
	}
	return started, release
}

func TestOverlappingShareCapturesOnce(t *testing.T) {
	capt := &mediatest.Capturer{}
	s := &sink{}
	c := media.NewController(capt)
	c.SetSink(s)
	require.NoError(t, c.Acquire(context.Background()))
	started, release := holdCall(capt, 2)

	done := make(chan error, 1)
	go func() { done <- c.ShareScreen(context.Background()) }()
	<-started
	require.NoError(t, c.ShareScreen(context.Background()))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"user audio=true video=true", "display"}, capt.RequestLog())
	assert.True(t, c.State().Sharing)
	assert.Len(t, s.all(), 1)

	require.NoError(t, c.StopShare())
	c.Stop()
	for _, tr := range capt.Created() {
		assert.True(t, tr.Stopped(), tr.ID())
	}
}

func TestStopDuringShareReleasesScreen(t *testing.T) {
	capt := &mediatest.Capturer{}
	s := &sink{}
	c := media.NewController(capt)
	c.SetSink(s)
	require.NoError(t, c.Acquire(context.Background()))
	started, release := holdCall(capt, 2)

	done := make(chan error, 1)
	go func() { done <- c.ShareScreen(context.Background()) }()
	<-started
	c.Stop()
	close(release)
	require.ErrorIs(t, <-done, media.ErrSuperseded)

	assert.True(t, capt.Last().Stopped())
	assert.Equal(t, media.State{}, c.State())
	assert.Empty(t, s.all())
	_, video := c.OutboundTracks()
	assert.Nil(t, video)
}

func TestOvertakenAcquireReleasesTracks(t *testing.T) {
	capt := &mediatest.Capturer{}
	c := media.NewController(capt)
	started, release := holdCall(capt, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Acquire(ctx) }()
	<-started
	cancel()
	require.NoError(t, c.Acquire(context.Background()))
	close(release)
	require.ErrorIs(t, <-done, context.Canceled)

	created := capt.Created()
	require.Len(t, created, 4)
	assert.True(t, created[0].Stopped())
	assert.True(t, created[1].Stopped())
	audio, video := c.OutboundTracks()
	assert.Equal(t, webrtc.TrackLocal(created[2]), audio)
	assert.Equal(t, webrtc.TrackLocal(created[3]), video)
	assert.False(t, created[2].Stopped())
	assert.Equal(t, media.State{Mode: media.ModeCamera, VideoEnabled: true}, c.State())

	c.Stop()
	for _, tr := range capt.Created() {
		assert.True(t, tr.Stopped(), tr.ID())
	}
}

func TestStopDuringAcquireReleasesTracks(t *testing.T) {
	capt := &mediatest.Capturer{}
	c := media.NewController(capt)
	started, release := holdCall(capt, 1)

	done := make(chan error, 1)
	go func() { done <- c.Acquire(context.Background()) }()
	<-started
	c.Stop()
	close(release)
	require.ErrorIs(t, <-done, media.ErrSuperseded)

	for _, tr := range capt.Created() {
		assert.True(t, tr.Stopped(), tr.ID())
	}
	assert.Equal(t, media.ModeNone, c.State().Mode)
}
