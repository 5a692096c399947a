package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/Mesh/internal/adapters/rtc"
	"github.com/dkeye/Mesh/internal/adapters/wsclient"
	"github.com/dkeye/Mesh/internal/client/media"
	"github.com/dkeye/Mesh/internal/client/media/devices"
	"github.com/dkeye/Mesh/internal/client/peer"
	"github.com/dkeye/Mesh/internal/client/session"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/domain"
)

func newJoinCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "join <room>",
		Short: "Join a room and stay until leave or Ctrl+C",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(v)
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(config.Level(cfg.LogLevel))
			return runJoin(cmd.Context(), cfg, args[0])
		},
	}
}

func codecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 60
	vpxParams.RateControlEndUsage = vpx.RateControlVBR
	vpxParams.Deadline = 20 * time.Millisecond

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func runJoin(ctx context.Context, cfg *config.Client, room string) error {
	selector, err := codecSelector()
	if err != nil {
		return err
	}
	api, err := rtc.NewAPI(rtc.Configuration(cfg))
	if err != nil {
		return err
	}
	ctl := media.NewController(devices.NewCapturer(selector))
	ctl.OnChange(func(st media.State) {
		log.Info().Str("module", "media").Str("mode", st.Mode.String()).Bool("muted", st.Muted).
			Bool("video", st.VideoEnabled).Bool("sharing", st.Sharing).Msg("local media")
	})

	inbound := newInbound()
	s := session.New(session.Options{
		Dial: func(ctx context.Context) (session.Channel, error) {
			c, err := wsclient.Dial(ctx, cfg.SignalingURL, wsclient.Options{})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Media:              ctl,
		Factory:            api.NewTransport,
		NegotiationTimeout: cfg.NegotiationTimeout,
		OnStatus: func(st session.Status) {
			ev := log.Info()
			if st.Err != nil {
				ev = log.Warn().Err(st.Err)
			}
			ev.Str("module", "session").Str("state", st.State.String()).Str("room", string(st.Room)).
				Str("self", string(st.Self)).Msg("session")
		},
		OnLink: func(l peer.LinkInfo) {
			log.Info().Str("module", "peer").Str("remote", string(l.Remote)).Str("role", l.Role).
				Str("state", l.State).Msg("link")
			if l.State == "closed" {
				inbound.forget(l.Remote)
			}
		},
		OnRemoteTrack: func(remote domain.MemberID, t peer.RemoteTrack) {
			if tr, ok := t.(*webrtc.TrackRemote); ok {
				go inbound.drain(remote, tr)
			}
		},
	})
	defer s.Close()

	if err := s.Join(room); err != nil {
		return err
	}
	err = repl(ctx, s, inbound, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
