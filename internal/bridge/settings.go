package bridge

import (
	"net"
	"strconv"
	"time"

	"github.com/kingrea/buckling-automation/internal/config"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8766
	// DefaultMaxBodyBytes limits batch payloads to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20
	DefaultReadTimeout        = 15 * time.Second
	DefaultIdleTimeout        = 60 * time.Second
)

// Settings captures runtime configuration for the HTTP bridge. There is no
// write timeout: POST /batches holds the response until the batch ends.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	IdleTimeout  time.Duration
}

// SettingsFromConfig reads the bridge section of the project config, which
// already carries the BUCKLING_BRIDGE_* overrides.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{Host: DefaultHost, Port: DefaultPort}
	if cfg != nil {
		settings.Enabled = cfg.BridgeEnabled()
		if raw := cfg.Project.Bridge; raw.Host != "" {
			settings.Host = raw.Host
		}
		if port := cfg.Project.Bridge.Port; port > 0 {
			settings.Port = port
		}
	}
	return settings
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	host := s.Host
	if host == "" {
		host = DefaultHost
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

func (s Settings) maxBodyBytes() int64 {
	if s.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return s.MaxBodyBytes
}

func (s Settings) readTimeout() time.Duration {
	if s.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return s.ReadTimeout
}

func (s Settings) idleTimeout() time.Duration {
	if s.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return s.IdleTimeout
}
