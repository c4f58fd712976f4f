package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadLocationConfig(t *testing.T) {
	tempDir := t.TempDir()

	configContent := `
version: "1.0"
lastUpdated: "2026-01-01T00:00:00Z"
place: "New_York_City"
building: "LightHouse"
floor: "6_floor"
meters_per_pixel: 0.0254
`
	path := writeFile(t, tempDir, "location.yaml", configContent)

	cfg, err := LoadLocationConfig(path)
	if err != nil {
		t.Fatalf("LoadLocationConfig failed: %v", err)
	}

	if cfg.Version != "1.0" {
		t.Errorf("Expected version 1.0, got %s", cfg.Version)
	}
	if cfg.Place != "New_York_City" {
		t.Errorf("Expected place New_York_City, got %s", cfg.Place)
	}
	if cfg.Building != "LightHouse" {
		t.Errorf("Expected building LightHouse, got %s", cfg.Building)
	}
	if cfg.Floor != "6_floor" {
		t.Errorf("Expected floor 6_floor, got %s", cfg.Floor)
	}
	if cfg.MetersPerPixel != 0.0254 {
		t.Errorf("Expected meters_per_pixel 0.0254, got %g", cfg.MetersPerPixel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}

	loc := cfg.Location()
	if loc.String() != "New_York_City/LightHouse/6_floor" {
		t.Errorf("Unexpected location key %s", loc.String())
	}
}

func TestLoadLocationConfigMissingFile(t *testing.T) {
	if _, err := LoadLocationConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLocationConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LocationConfig
		wantErr string
	}{
		{"complete", LocationConfig{Place: "p", Building: "b", Floor: "f", MetersPerPixel: 0.1}, ""},
		{"missing floor", LocationConfig{Place: "p", Building: "b", MetersPerPixel: 0.1}, "missing required fields"},
		{"zero scale", LocationConfig{Place: "p", Building: "b", Floor: "f"}, "meters_per_pixel"},
		{"negative scale", LocationConfig{Place: "p", Building: "b", Floor: "f", MetersPerPixel: -1}, "meters_per_pixel"},
	}

	for _, tt := range tests {
		err := tt.cfg.Validate()
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: expected error containing %q, got %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestLocationConfigRoundTripYAML(t *testing.T) {
	cfg := &LocationConfig{Place: "p", Building: "b", Floor: "f", MetersPerPixel: 0.5}
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("ToYAML failed: %v", err)
	}
	parsed, err := ParseLocationConfig(data)
	if err != nil {
		t.Fatalf("ParseLocationConfig failed: %v", err)
	}
	if *parsed != *cfg {
		t.Errorf("Expected %+v, got %+v", *cfg, *parsed)
	}
}

const minimalBootstrap = `
logging:
  level: "debug"
server:
  http_port: 9090
backend:
  base_url: "http://localhost:5001"
feed:
  transport: "websocket"
  websocket_url: "ws://localhost:5001/socket"
data:
  directory: "/tmp/navclient"
`

func TestLoadBootstrapConfig(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, tempDir, BootstrapFilename, minimalBootstrap)

	cfg, err := LoadBootstrapConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadBootstrapConfig failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Backend.BaseURL != "http://localhost:5001" {
		t.Errorf("Unexpected base url %s", cfg.Backend.BaseURL)
	}

	// Defaults
	if cfg.Backend.TimeoutMs != 30000 {
		t.Errorf("Expected default timeout 30000, got %d", cfg.Backend.TimeoutMs)
	}
	if cfg.Processing.EventQueueSize != 256 {
		t.Errorf("Expected default queue size 256, got %d", cfg.Processing.EventQueueSize)
	}
	if got := cfg.Data.LocationConfigPath(); got != filepath.Join("/tmp/navclient", "location.yaml") {
		t.Errorf("Unexpected location path %s", got)
	}
	if got := cfg.Data.SessionDBPath(); got != filepath.Join("/tmp/navclient", "sessions.db") {
		t.Errorf("Unexpected session db path %s", got)
	}
}

func TestLoadBootstrapConfigEnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, tempDir, BootstrapFilename, minimalBootstrap)

	t.Setenv("NAVCLIENT_SERVER_HTTP_PORT", "7070")
	t.Setenv("NAVCLIENT_FEED_TRANSPORT", "zeromq")
	t.Setenv("NAVCLIENT_FEED_ZEROMQ_ADDRESS", "tcp://localhost:5555")
	t.Setenv("NAVCLIENT_SESSION_ID", "cam-7")

	cfg, err := LoadBootstrapConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadBootstrapConfig failed: %v", err)
	}
	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("Expected port 7070 from env, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Feed.Transport != TransportZeroMQ {
		t.Errorf("Expected zeromq transport from env, got %s", cfg.Feed.Transport)
	}
	if cfg.Feed.ZeroMQAddress != "tcp://localhost:5555" {
		t.Errorf("Unexpected zeromq address %s", cfg.Feed.ZeroMQAddress)
	}
	if cfg.Session.ID != "cam-7" {
		t.Errorf("Expected session id cam-7, got %s", cfg.Session.ID)
	}
}

func TestLoadBootstrapConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing base url",
			content: "data:\n  directory: /tmp\nfeed:\n  websocket_url: ws://x\n",
			wantErr: "backend.base_url",
		},
		{
			name:    "missing data directory",
			content: "backend:\n  base_url: http://x\nfeed:\n  websocket_url: ws://x\n",
			wantErr: "data.directory",
		},
		{
			name:    "unknown transport",
			content: "backend:\n  base_url: http://x\ndata:\n  directory: /tmp\nfeed:\n  transport: carrier_pigeon\n",
			wantErr: "feed.transport",
		},
		{
			name:    "zeromq without address",
			content: "backend:\n  base_url: http://x\ndata:\n  directory: /tmp\nfeed:\n  transport: zeromq\n",
			wantErr: "feed.zeromq_address",
		},
		{
			name:    "bad colour",
			content: "backend:\n  base_url: http://x\ndata:\n  directory: /tmp\nfeed:\n  websocket_url: ws://x\nrender:\n  pose_color: notacolour\n",
			wantErr: "render.pose_color",
		},
	}

	for _, tt := range tests {
		tempDir := t.TempDir()
		writeFile(t, tempDir, BootstrapFilename, tt.content)
		_, err := LoadBootstrapConfig(tempDir)
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: expected error containing %q, got %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestLoadBootstrapConfigMissingFile(t *testing.T) {
	if _, err := LoadBootstrapConfig(t.TempDir()); err == nil {
		t.Error("Expected error when bootstrap file is missing")
	}
}

func TestRenderConfigStyle(t *testing.T) {
	off := false
	rc := RenderConfig{PoseColor: "#00ff00", PathWidth: 12, ShowLabels: &off}
	style, err := rc.Style()
	if err != nil {
		t.Fatalf("Style failed: %v", err)
	}
	if style.PoseColor.G != 0xff || style.PoseColor.R != 0 || style.PoseColor.B != 0 {
		t.Errorf("Unexpected pose colour %+v", style.PoseColor)
	}
	if style.PathWidth != 12 {
		t.Errorf("Expected path width 12, got %g", style.PathWidth)
	}
	if style.ShowLabels {
		t.Error("Expected labels disabled")
	}
	// Untouched fields keep their defaults.
	if style.PoseRadius != 70 {
		t.Errorf("Expected default pose radius 70, got %g", style.PoseRadius)
	}

	if _, err := (RenderConfig{RayLength: -1}).Style(); err == nil {
		t.Error("Expected error for negative size")
	}
}

func TestInvalidLocationIsMarked(t *testing.T) {
	if _, err := ParseLocationConfig([]byte("place: [unterminated")); !errors.Is(err, ErrInvalidLocation) {
		t.Errorf("Expected ErrInvalidLocation from parse, got %v", err)
	}
	if err := (&LocationConfig{}).Validate(); !errors.Is(err, ErrInvalidLocation) {
		t.Errorf("Expected ErrInvalidLocation from validate, got %v", err)
	}
}
