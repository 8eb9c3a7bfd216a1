package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the server needs, parsed from the environment.
// Listen addresses and log level can be overridden on the command line.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"debug"`

	APIListenAddr     string `env:"API_LISTEN_ADDR" envDefault:":8080"`
	WSListenAddr      string `env:"WS_LISTEN_ADDR" envDefault:":8888"`
	MetricsListenAddr string `env:"METRICS_LISTEN_ADDR" envDefault:":9090"`

	RoomTTL         time.Duration `env:"ROOM_TTL" envDefault:"24h"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL" envDefault:"1m"`
	MaxParticipants int           `env:"MAX_PARTICIPANTS" envDefault:"2"`

	// WireBuffer bounds outbound frames queued per connection before the
	// member is considered stalled and evicted.
	WireBuffer int `env:"WIRE_BUFFER" envDefault:"256"`

	// ExecutorURL points at the external code-execution sandbox. Empty
	// disables execution.
	ExecutorURL     string        `env:"EXECUTOR_URL"`
	ExecutorTimeout time.Duration `env:"EXECUTOR_TIMEOUT" envDefault:"15s"`
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &c, nil
}
