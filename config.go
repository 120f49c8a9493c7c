package adminws

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// Config holds every tunable of a ConnectionManager and its collaborators.
type Config struct {
	// URL is a fixed endpoint. When set, discovery is skipped.
	URL string `yaml:"url"`
	// DiscoveryURL answers an authenticated GET with {"url": "..."}.
	DiscoveryURL string `yaml:"discovery_url"`
	// Origin of the hosting page or service, used to derive the fallback endpoint.
	Origin            string        `yaml:"origin"`
	FallbackPath      string        `yaml:"fallback_path"`
	DiscoveryAttempts uint          `yaml:"discovery_attempts"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`

	HeartbeatInterval           time.Duration `yaml:"heartbeat_interval"`
	BackgroundHeartbeatInterval time.Duration `yaml:"background_heartbeat_interval"`
	// PongTimeout of zero leaves liveness detection to the transport.
	PongTimeout time.Duration `yaml:"pong_timeout"`

	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	Backoff              string        `yaml:"backoff"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// AuthTimeout bounds the wait for auth_success or auth_error. Zero waits forever.
	AuthTimeout  time.Duration `yaml:"auth_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func DefaultConfig() Config {
	return Config{
		FallbackPath:                "/ws/admin",
		DiscoveryAttempts:           3,
		DiscoveryTimeout:            5 * time.Second,
		HeartbeatInterval:           30 * time.Second,
		BackgroundHeartbeatInterval: 15 * time.Second,
		ReconnectBaseDelay:          5 * time.Second,
		ReconnectMaxDelay:           30 * time.Second,
		MaxReconnectAttempts:        10,
		Backoff:                     BackoffLinear,
		HandshakeTimeout:            10 * time.Second,
		AuthTimeout:                 10 * time.Second,
		WriteTimeout:                time.Second,
	}
}

func (c Config) Validate() error {
	if c.URL == "" && c.DiscoveryURL == "" && c.Origin == "" {
		return errors.Wrap(ErrInvalidConfig, "one of url, discovery_url or origin is required")
	}
	if c.HeartbeatInterval <= 0 || c.BackgroundHeartbeatInterval <= 0 {
		return errors.Wrap(ErrInvalidConfig, "heartbeat intervals must be positive")
	}
	if c.WriteTimeout <= 0 || c.DiscoveryTimeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "timeouts must be positive write=%s discovery=%s", c.WriteTimeout, c.DiscoveryTimeout)
	}
	if c.PongTimeout < 0 || c.AuthTimeout < 0 {
		return errors.Wrap(ErrInvalidConfig, "pong_timeout and auth_timeout cannot be negative")
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return errors.Wrapf(ErrInvalidConfig, "reconnect delays base=%s max=%s", c.ReconnectBaseDelay, c.ReconnectMaxDelay)
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.Wrap(ErrInvalidConfig, "max_reconnect_attempts cannot be negative")
	}
	switch c.Backoff {
	case BackoffLinear, BackoffExponential:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown backoff %q", c.Backoff)
	}
	return nil
}

// LoadConfig reads a yaml file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	bts, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "cannot read config")
	}
	if err := yaml.Unmarshal(bts, &cfg); err != nil {
		return cfg, errors.Wrap(err, "cannot parse config")
	}
	return cfg, cfg.Validate()
}
