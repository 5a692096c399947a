package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/Mesh/internal/config"
)

func newRootCmd() *cobra.Command {
	v := config.NewClientViper()

	root := &cobra.Command{
		Use:   "meshclient",
		Short: "Headless participant for a mesh video room",
		Long: `meshclient joins a room on a Mesh signaling server with the local camera,
microphone and screen, and connects directly to every other participant.

Examples:
  meshclient join standup
  meshclient join standup --url wss://mesh.example.com/api/ws/signal
  MESH_TURN_URL=turn:turn.example.com:3478 meshclient join standup`,
	}

	f := root.PersistentFlags()
	f.String("url", "", "signaling websocket url")
	f.StringSlice("stun", nil, "STUN server urls")
	f.String("turn", "", "TURN server url")
	f.String("turn-user", "", "TURN username")
	f.String("turn-pass", "", "TURN password")
	f.Duration("negotiation-timeout", 0, "give up on a peer that does not connect in time")
	f.String("log-level", "", "trace|debug|info|warn|error")
	bind(v, root, map[string]string{
		"signaling_url":       "url",
		"ice_servers":         "stun",
		"turn_url":            "turn",
		"turn_username":       "turn-user",
		"turn_password":       "turn-pass",
		"negotiation_timeout": "negotiation-timeout",
		"log_level":           "log-level",
	})

	root.AddCommand(newJoinCmd(v))
	return root
}

// bind lets flags override file and env values, only when set.
func bind(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		_ = v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag))
	}
}
