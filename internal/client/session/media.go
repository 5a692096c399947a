package session

import (
	"context"

	"github.com/dkeye/Mesh/internal/client/media"
)

// The media controller is safe for concurrent use; these calls bypass the
// loop. Video swaps come back through videoSink.

func (s *Session) ToggleMute() bool {
	if s.opts.Media == nil {
		return false
	}
	return s.opts.Media.ToggleMute()
}

func (s *Session) ToggleVideo() bool {
	if s.opts.Media == nil {
		return false
	}
	return s.opts.Media.ToggleVideo()
}

func (s *Session) ShareScreen(ctx context.Context) error {
	if s.opts.Media == nil {
		return media.ErrMediaUnavailable
	}
	return s.opts.Media.ShareScreen(ctx)
}

func (s *Session) StopShare() error {
	if s.opts.Media == nil {
		return media.ErrNotSharing
	}
	return s.opts.Media.StopShare()
}
