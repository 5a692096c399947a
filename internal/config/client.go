package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Client is the participant-side configuration.
type Client struct {
	SignalingURL       string        `mapstructure:"signaling_url"`
	ICEServers         []string      `mapstructure:"ice_servers"`
	TURNURL            string        `mapstructure:"turn_url"`
	TURNUsername       string        `mapstructure:"turn_username"`
	TURNPassword       string        `mapstructure:"turn_password"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	LogLevel           string        `mapstructure:"log_level"`
}

// NewClientViper returns a viper instance with client defaults, so a CLI can
// bind its flags before LoadClient.
func NewClientViper() *viper.Viper {
	v := newViper("client")
	v.SetDefault("signaling_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("negotiation_timeout", "15s")
	v.SetDefault("log_level", "info")
	return v
}

func LoadClient(v *viper.Viper) (*Client, error) {
	readFile(v)

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	u, err := url.Parse(cfg.SignalingURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("signaling_url must be ws:// or wss://, got %q", cfg.SignalingURL)
	}
	if cfg.NegotiationTimeout <= 0 {
		return nil, fmt.Errorf("negotiation_timeout must be positive")
	}
	return &cfg, nil
}
