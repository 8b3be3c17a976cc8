package runs

import (
	"github.com/kingrea/buckling-automation/internal/automation"
	"github.com/kingrea/buckling-automation/internal/config"
	"github.com/kingrea/buckling-automation/internal/surface"
	"github.com/kingrea/buckling-automation/internal/surface/winappdriver"
)

// ConnectorFromConfig returns the surface connector the config selects. The
// simulator is created once so its form state carries over between batches,
// the same way the real application keeps its fields.
func ConnectorFromConfig(cfg *config.Config, logger Logger) surface.Connector {
	if cfg != nil && cfg.Project.Surface.Driver == config.DriverSimulator {
		return surface.NewSimulator().Connector()
	}
	ids := surface.DefaultElements()
	if cfg != nil {
		ids = cfg.Elements()
	}
	var opts []winappdriver.Option
	if logger != nil {
		opts = append(opts, winappdriver.WithLogger(logger))
	}
	return winappdriver.Connector(winappdriver.SettingsFromConfig(cfg), ids, opts...)
}

// SettlerFromConfig builds the settle policy from the settle section.
func SettlerFromConfig(cfg *config.Config) automation.Settler {
	settler := automation.Settler{Interval: automation.DefaultPollInterval}
	if cfg == nil {
		return settler
	}
	s := cfg.Project.Settle
	if s.PollInterval > 0 {
		settler.Interval = s.PollInterval
	}
	settler.Timeout = s.Timeout
	settler.MaxPolls = s.MaxPolls
	return settler
}
