package client

import (
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ceskypane/stormgo/logging"
	"github.com/ceskypane/stormgo/party"
	"github.com/ceskypane/stormgo/transport/ws"
)

type Config struct {
	// Endpoint is the websocket URL of the cluster front.
	Endpoint string `env:"STORMGO_ENDPOINT"`

	// AuthToken is the connection token for the management scene, obtained
	// out of band from the authentication service.
	AuthToken string `env:"STORMGO_AUTH_TOKEN"`

	UserID string `env:"STORMGO_USER_ID"`

	EventBuffer int `env:"STORMGO_EVENT_BUFFER" envDefault:"64"`

	HandshakeTimeout  time.Duration `env:"STORMGO_HANDSHAKE_TIMEOUT"`
	KeepAliveInterval time.Duration `env:"STORMGO_KEEPALIVE_INTERVAL"`

	Logger logging.Logger

	Party party.Config

	Providers []party.PlatformProvider

	// Dialer overrides the websocket dialer, primarily for tests.
	Dialer ws.Dialer
}

// ConfigFromEnv builds a Config from STORMGO_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
