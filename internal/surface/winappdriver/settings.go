package winappdriver

import (
	"strings"
	"time"

	"github.com/kingrea/buckling-automation/internal/config"
)

const (
	// DefaultURL is where Windows Application Driver listens after a default install.
	DefaultURL = "http://127.0.0.1:4723"
	// DefaultRequestTimeout bounds a single driver round trip.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultWindow is the automation id of the application's main form.
	DefaultWindow = "frmOrpheus"
)

// Settings captures how to reach the driver and which window to attach to.
type Settings struct {
	URL            string
	Window         string
	RequestTimeout time.Duration
}

// SettingsFromConfig builds Settings from the project's .buckling config.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		URL:            DefaultURL,
		Window:         DefaultWindow,
		RequestTimeout: DefaultRequestTimeout,
	}
	if cfg != nil {
		raw := cfg.Project.Surface
		if url := strings.TrimSpace(raw.DriverURL); url != "" {
			settings.URL = url
		}
		if window := strings.TrimSpace(raw.Elements.Window); window != "" {
			settings.Window = window
		}
		if raw.RequestTimeout > 0 {
			settings.RequestTimeout = raw.RequestTimeout
		}
	}
	settings.normalize()
	return settings
}

func (s *Settings) normalize() {
	s.URL = strings.TrimRight(strings.TrimSpace(s.URL), "/")
	if s.URL == "" {
		s.URL = DefaultURL
	}
	s.Window = strings.TrimSpace(s.Window)
	if s.Window == "" {
		s.Window = DefaultWindow
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
}
