// internal/config/config.go
//
// This package handles configuration and the .buckling directory structure.
// Every working directory that runs the tool gets a .buckling/ folder holding
// the config file, logs, exports and the run history database.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/buckling-automation/internal/surface"
)

const (
	// BucklingDir is the name of the directory we create in each working directory
	BucklingDir = ".buckling"

	// DriverWinAppDriver drives the real application through Windows Application Driver.
	DriverWinAppDriver = "winappdriver"
	// DriverSimulator drives the in-process calculator stand-in.
	DriverSimulator = "simulator"

	defaultDriverURL    = "http://127.0.0.1:4723"
	defaultPollInterval = time.Second
)

const defaultProjectConfigYAML = `# buckling automation configuration
version: 1

surface:
  # winappdriver talks to the real application, simulator uses a built-in stand-in.
  driver: winappdriver
  driver_url: http://127.0.0.1:4723
  request_timeout: 30s
  # Automation ids of the target application's controls.
  elements:
    window: frmOrpheus
    surface_weight_mode: optSW
    surface_weight: txtSW
    depth: txtDepth
    output: txtFOE
    data_field: txtData
    refresh: btnRefresh

settle:
  # Delay between output reads while waiting for a recalculation.
  poll_interval: 1s
  # 0 waits forever, matching the application's own lack of a completion signal.
  timeout: 0s
  max_polls: 0

bridge:
  enabled: false
  host: 127.0.0.1
  port: 8766
`

// ElementConfig names the automation ids the control surface looks up.
type ElementConfig struct {
	Window            string `yaml:"window"`
	SurfaceWeightMode string `yaml:"surface_weight_mode"`
	SurfaceWeight     string `yaml:"surface_weight"`
	Depth             string `yaml:"depth"`
	Output            string `yaml:"output"`
	DataField         string `yaml:"data_field"`
	Refresh           string `yaml:"refresh"`
}

// SurfaceConfig selects and configures the control surface driver.
type SurfaceConfig struct {
	Driver         string        `yaml:"driver"`
	DriverURL      string        `yaml:"driver_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Elements       ElementConfig `yaml:"elements"`
}

// SettleConfig bounds the wait for a recalculation to finish.
type SettleConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxPolls     int           `yaml:"max_polls"`
}

// BridgeConfig captures optional overrides for the local HTTP bridge.
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// ProjectConfig models .buckling/config.yaml.
type ProjectConfig struct {
	Version int           `yaml:"version"`
	Surface SurfaceConfig `yaml:"surface"`
	Settle  SettleConfig  `yaml:"settle"`
	Bridge  BridgeConfig  `yaml:"bridge"`
}

// Config holds the runtime configuration.
type Config struct {
	// ProjectDir is the directory the tool was started from
	ProjectDir string

	// BucklingProjectDir is ProjectDir/.buckling
	BucklingProjectDir string

	Project ProjectConfig
}

// InitBucklingDir creates the .buckling directory structure in the given directory.
//
// Structure created:
// .buckling/
// ├── config.yaml
// ├── logs/      <- buckling.log (diagnostics) and journey.log (run journal)
// ├── state/     <- history.db
// └── exports/   <- result workbooks written from the TUI
func InitBucklingDir(projectDir string) error {
	bucklingDir := filepath.Join(projectDir, BucklingDir)

	dirs := []string{
		filepath.Join(bucklingDir, "logs"),
		filepath.Join(bucklingDir, "state"),
		filepath.Join(bucklingDir, "exports"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return ensureProjectConfig(filepath.Join(bucklingDir, "config.yaml"))
}

// NewConfig creates a new Config populated from .buckling/config.yaml and the
// BUCKLING_* environment overrides.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:         projectDir,
		BucklingProjectDir: filepath.Join(projectDir, BucklingDir),
		Project:            defaultProjectConfig(),
	}

	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.BucklingProjectDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.BucklingProjectDir, "state")
}

// ExportsDir returns the directory result workbooks are written to
func (c *Config) ExportsDir() string {
	return filepath.Join(c.BucklingProjectDir, "exports")
}

// HistoryPath returns the SQLite database that stores past runs
func (c *Config) HistoryPath() string {
	return filepath.Join(c.StateDir(), "history.db")
}

// JourneyLogPath returns the human readable run journal
func (c *Config) JourneyLogPath() string {
	return filepath.Join(c.LogsDir(), "journey.log")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.BucklingProjectDir, "config.yaml")
}

// BridgeEnabled reports whether the local HTTP bridge should be started.
func (c *Config) BridgeEnabled() bool {
	return c.Project.Bridge.Enabled != nil && *c.Project.Bridge.Enabled
}

// UseSimulator switches the surface driver to the built-in simulator.
func (c *Config) UseSimulator() {
	c.Project.Surface.Driver = DriverSimulator
}

// Elements converts the configured automation ids for the control surface.
func (c *Config) Elements() surface.Elements {
	el := c.Project.Surface.Elements
	return surface.Elements{
		Window:            el.Window,
		SurfaceWeightMode: el.SurfaceWeightMode,
		SurfaceWeight:     el.SurfaceWeight,
		Depth:             el.Depth,
		Output:            el.Output,
		DataField:         el.DataField,
		Refresh:           el.Refresh,
	}
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if value := strings.TrimSpace(os.Getenv("BUCKLING_DRIVER")); value != "" {
		c.Project.Surface.Driver = normalizeDriver(value)
	}
	if value := strings.TrimSpace(os.Getenv("BUCKLING_DRIVER_URL")); value != "" {
		c.Project.Surface.DriverURL = value
	}
	if value := strings.TrimSpace(os.Getenv("BUCKLING_POLL_INTERVAL")); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: BUCKLING_POLL_INTERVAL: %w", err)
		}
		c.Project.Settle.PollInterval = parsed
	}
	if value := strings.TrimSpace(os.Getenv("BUCKLING_SETTLE_TIMEOUT")); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: BUCKLING_SETTLE_TIMEOUT: %w", err)
		}
		c.Project.Settle.Timeout = parsed
	}
	if value := strings.TrimSpace(os.Getenv("BUCKLING_BRIDGE_ENABLED")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: BUCKLING_BRIDGE_ENABLED: %w", err)
		}
		c.Project.Bridge.Enabled = &enabled
	}
	if value := strings.TrimSpace(os.Getenv("BUCKLING_BRIDGE_HOST")); value != "" {
		c.Project.Bridge.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("BUCKLING_BRIDGE_PORT")); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: BUCKLING_BRIDGE_PORT: %w", err)
		}
		c.Project.Bridge.Port = port
	}
	c.Project.applyDefaults()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{Version: 1}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Surface.Driver == "" {
		pc.Surface.Driver = DriverWinAppDriver
	}
	if pc.Surface.DriverURL == "" {
		pc.Surface.DriverURL = defaultDriverURL
	}
	if pc.Surface.RequestTimeout <= 0 {
		pc.Surface.RequestTimeout = 30 * time.Second
	}
	defaults := surface.DefaultElements()
	el := &pc.Surface.Elements
	fill := func(target *string, fallback string) {
		if strings.TrimSpace(*target) == "" {
			*target = fallback
		}
	}
	fill(&el.Window, defaults.Window)
	fill(&el.SurfaceWeightMode, defaults.SurfaceWeightMode)
	fill(&el.SurfaceWeight, defaults.SurfaceWeight)
	fill(&el.Depth, defaults.Depth)
	fill(&el.Output, defaults.Output)
	fill(&el.DataField, defaults.DataField)
	fill(&el.Refresh, defaults.Refresh)
	if pc.Settle.PollInterval <= 0 {
		pc.Settle.PollInterval = defaultPollInterval
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Surface.Driver = normalizeDriver(pc.Surface.Driver)
	pc.Surface.DriverURL = strings.TrimRight(strings.TrimSpace(pc.Surface.DriverURL), "/")
	el := &pc.Surface.Elements
	for _, field := range []*string{&el.Window, &el.SurfaceWeightMode, &el.SurfaceWeight, &el.Depth, &el.Output, &el.DataField, &el.Refresh} {
		*field = strings.TrimSpace(*field)
	}
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	switch pc.Surface.Driver {
	case DriverWinAppDriver:
		if pc.Surface.DriverURL == "" {
			return fmt.Errorf("surface.driver_url is required for the winappdriver driver")
		}
	case DriverSimulator:
	default:
		return fmt.Errorf("surface.driver must be '%s' or '%s'", DriverWinAppDriver, DriverSimulator)
	}
	if pc.Settle.Timeout < 0 {
		return fmt.Errorf("settle.timeout must not be negative")
	}
	if pc.Settle.MaxPolls < 0 {
		return fmt.Errorf("settle.max_polls must not be negative")
	}
	if pc.Bridge.Port < 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 0 and 65535")
	}
	return nil
}

func normalizeDriver(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}

