package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config aggregates every tunable of the relay backend, parsed from
// environment variables.
type Config struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	DatabasePath   string        `env:"DATABASE_PATH" envDefault:"wischat.db"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	IdleTimeout    time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	SweepInterval  time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m"`
	Heartbeat      time.Duration `env:"STREAM_HEARTBEAT_INTERVAL" envDefault:"30s"`
	MaxBodyLength  int           `env:"MAX_MESSAGE_LENGTH" envDefault:"4000"`
	DedupRetention time.Duration `env:"DEDUP_RETENTION" envDefault:"24h"`

	Widget WidgetConfig `envPrefix:"WIDGET_"`
}

// WidgetConfig is the static configuration served to the embedded chat
// widget.
type WidgetConfig struct {
	PrimaryColor   string `env:"PRIMARY_COLOR" envDefault:"#0073aa" json:"primaryColor"`
	Position       string `env:"POSITION" envDefault:"bottom-right" json:"position"`
	Title          string `env:"TITLE" envDefault:"Chat with us" json:"title"`
	WelcomeMessage string `env:"WELCOME_MESSAGE" envDefault:"Hi! How can we help you today?" json:"welcomeMessage"`
	OfflineMessage string `env:"OFFLINE_MESSAGE" envDefault:"We are currently offline. Leave a message!" json:"offlineMessage"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Addr returns the listen address. PORT may be a bare port or a full
// "host:port" value.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
