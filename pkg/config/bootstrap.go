package config

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/unav/navclient/pkg/render"
)

// BootstrapFilename is the bootstrap file looked up in the config directory.
const BootstrapFilename = "navclient_config.yaml"

// Feed transports.
const (
	TransportWebSocket = "websocket"
	TransportZeroMQ    = "zeromq"
)

// BootstrapConfig holds the initial configuration loaded from navclient_config.yaml
type BootstrapConfig struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Backend    BackendConfig    `yaml:"backend"`
	Feed       FeedConfig       `yaml:"feed"`
	Data       DataConfig       `yaml:"data"`
	Render     RenderConfig     `yaml:"render"`
	Session    SessionConfig    `yaml:"session"`
	Processing ProcessingConfig `yaml:"processing"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	HTTPPort           int `yaml:"http_port"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

// BackendConfig points at the localization and planning server
type BackendConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Timeout returns the HTTP timeout.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// FeedConfig selects and addresses the live feed transport
type FeedConfig struct {
	Transport           string `yaml:"transport"`
	WebSocketURL        string `yaml:"websocket_url"`
	ZeroMQAddress       string `yaml:"zeromq_address"`
	ReconnectIntervalMs int    `yaml:"reconnect_interval_ms"`
}

// ReconnectInterval returns the pause between reconnect attempts.
func (f FeedConfig) ReconnectInterval() time.Duration {
	return time.Duration(f.ReconnectIntervalMs) * time.Millisecond
}

// DataConfig holds data directory settings from bootstrap
type DataConfig struct {
	Directory              string `yaml:"directory"`
	LocationConfigFilename string `yaml:"location_config_file"`
	SessionDBFilename      string `yaml:"session_db_file"`
}

// LocationConfigPath is the operational location file.
func (d DataConfig) LocationConfigPath() string {
	return filepath.Join(d.Directory, d.LocationConfigFilename)
}

// SessionDBPath is the session history database.
func (d DataConfig) SessionDBPath() string {
	return filepath.Join(d.Directory, d.SessionDBFilename)
}

// RenderConfig overrides marker colours and sizes. Empty fields keep the
// defaults.
type RenderConfig struct {
	Background        string  `yaml:"background"`
	DestinationColor  string  `yaml:"destination_color"`
	DestinationRadius float64 `yaml:"destination_radius"`
	SelectedColor     string  `yaml:"selected_color"`
	SelectedRadius    float64 `yaml:"selected_radius"`
	PoseColor         string  `yaml:"pose_color"`
	PoseRadius        float64 `yaml:"pose_radius"`
	RayLength         float64 `yaml:"ray_length"`
	RayWidth          float64 `yaml:"ray_width"`
	PathColor         string  `yaml:"path_color"`
	PathWidth         float64 `yaml:"path_width"`
	ShowLabels        *bool   `yaml:"show_labels"`
}

// SessionConfig identifies this client on the live feed
type SessionConfig struct {
	// ID is the room joined for planner updates. Empty means a random id.
	ID string `yaml:"id"`
	// Monitor subscribes to every session's camera stream.
	Monitor bool `yaml:"monitor"`
}

// ProcessingConfig sizes the event loop
type ProcessingConfig struct {
	EventQueueSize  int `yaml:"event_queue_size"`
	SubmitTimeoutMs int `yaml:"submit_timeout_ms"`
}

// SubmitTimeout bounds the wait for room in the event queue.
func (p ProcessingConfig) SubmitTimeout() time.Duration {
	return time.Duration(p.SubmitTimeoutMs) * time.Millisecond
}

// LoadBootstrapConfig loads navclient_config.yaml from configDir, applies
// NAVCLIENT_* environment overrides and validates the result.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFilename)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	applyEnvOverrides(&bootstrapCfg)
	bootstrapCfg.applyDefaults()

	if err := bootstrapCfg.Validate(); err != nil {
		return nil, err
	}
	return &bootstrapCfg, nil
}

// envKeys are the settings that may come from NAVCLIENT_<KEY> with dots
// replaced by underscores.
var envKeys = []string{
	"logging.level",
	"logging.log_path",
	"server.http_port",
	"backend.base_url",
	"backend.timeout_ms",
	"feed.transport",
	"feed.websocket_url",
	"feed.zeromq_address",
	"data.directory",
	"session.id",
	"session.monitor",
}

func applyEnvOverrides(cfg *BootstrapConfig) {
	v := viper.New()
	v.SetEnvPrefix("NAVCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if v.IsSet("logging.level") {
		cfg.Logging.Level = v.GetString("logging.level")
	}
	if v.IsSet("logging.log_path") {
		cfg.Logging.LogPath = v.GetString("logging.log_path")
	}
	if v.IsSet("server.http_port") {
		cfg.Server.HTTPPort = v.GetInt("server.http_port")
	}
	if v.IsSet("backend.base_url") {
		cfg.Backend.BaseURL = v.GetString("backend.base_url")
	}
	if v.IsSet("backend.timeout_ms") {
		cfg.Backend.TimeoutMs = v.GetInt("backend.timeout_ms")
	}
	if v.IsSet("feed.transport") {
		cfg.Feed.Transport = v.GetString("feed.transport")
	}
	if v.IsSet("feed.websocket_url") {
		cfg.Feed.WebSocketURL = v.GetString("feed.websocket_url")
	}
	if v.IsSet("feed.zeromq_address") {
		cfg.Feed.ZeroMQAddress = v.GetString("feed.zeromq_address")
	}
	if v.IsSet("data.directory") {
		cfg.Data.Directory = v.GetString("data.directory")
	}
	if v.IsSet("session.id") {
		cfg.Session.ID = v.GetString("session.id")
	}
	if v.IsSet("session.monitor") {
		cfg.Session.Monitor = v.GetBool("session.monitor")
	}
}

func (c *BootstrapConfig) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.ShutdownTimeoutSec == 0 {
		c.Server.ShutdownTimeoutSec = 10
	}
	if c.Backend.TimeoutMs == 0 {
		c.Backend.TimeoutMs = 30000
	}
	if c.Feed.Transport == "" {
		c.Feed.Transport = TransportWebSocket
	}
	if c.Feed.ReconnectIntervalMs == 0 {
		c.Feed.ReconnectIntervalMs = 2000
	}
	if c.Data.LocationConfigFilename == "" {
		c.Data.LocationConfigFilename = "location.yaml"
	}
	if c.Data.SessionDBFilename == "" {
		c.Data.SessionDBFilename = "sessions.db"
	}
	if c.Processing.EventQueueSize == 0 {
		c.Processing.EventQueueSize = 256
	}
	if c.Processing.SubmitTimeoutMs == 0 {
		c.Processing.SubmitTimeoutMs = 5000
	}
}

// Validate checks required fields.
func (c *BootstrapConfig) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("missing required field in bootstrap config: backend.base_url")
	}
	if c.Data.Directory == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	switch c.Feed.Transport {
	case TransportWebSocket:
		if c.Feed.WebSocketURL == "" {
			return fmt.Errorf("missing required field in bootstrap config: feed.websocket_url")
		}
	case TransportZeroMQ:
		if c.Feed.ZeroMQAddress == "" {
			return fmt.Errorf("missing required field in bootstrap config: feed.zeromq_address")
		}
	default:
		return fmt.Errorf("invalid feed.transport %q: must be %s or %s", c.Feed.Transport, TransportWebSocket, TransportZeroMQ)
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server.http_port %d", c.Server.HTTPPort)
	}
	if c.Processing.EventQueueSize < 0 {
		return fmt.Errorf("invalid processing.event_queue_size %d", c.Processing.EventQueueSize)
	}
	if _, err := c.Render.Style(); err != nil {
		return err
	}
	return nil
}

// Style merges the render overrides onto the default style.
func (r RenderConfig) Style() (render.Style, error) {
	s := render.DefaultStyle()

	colours := []struct {
		field string
		value string
		dst   *color.RGBA
	}{
		{"background", r.Background, &s.Background},
		{"destination_color", r.DestinationColor, &s.DestinationColor},
		{"selected_color", r.SelectedColor, &s.SelectedColor},
		{"pose_color", r.PoseColor, &s.PoseColor},
		{"path_color", r.PathColor, &s.PathColor},
	}
	for _, c := range colours {
		if c.value == "" {
			continue
		}
		parsed, err := render.ParseColor(c.value)
		if err != nil {
			return render.Style{}, fmt.Errorf("invalid render.%s: %w", c.field, err)
		}
		*c.dst = parsed
	}
	if r.DestinationColor != "" {
		s.LabelColor = s.DestinationColor
	}

	sizes := []struct {
		field string
		value float64
		dst   *float64
	}{
		{"destination_radius", r.DestinationRadius, &s.DestinationRadius},
		{"selected_radius", r.SelectedRadius, &s.SelectedRadius},
		{"pose_radius", r.PoseRadius, &s.PoseRadius},
		{"ray_length", r.RayLength, &s.RayLength},
		{"ray_width", r.RayWidth, &s.RayWidth},
		{"path_width", r.PathWidth, &s.PathWidth},
	}
	for _, z := range sizes {
		if z.value < 0 {
			return render.Style{}, fmt.Errorf("invalid render.%s %g: must not be negative", z.field, z.value)
		}
		if z.value > 0 {
			*z.dst = z.value
		}
	}
	if r.ShowLabels != nil {
		s.ShowLabels = *r.ShowLabels
	}
	return s, nil
}
