package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/unav/navclient/pkg/backend"
)

// ErrInvalidLocation marks location content that failed parsing or
// validation.
var ErrInvalidLocation = errors.New("invalid location config")

// LocationConfig is the operational location: which floor is being
// navigated and how large a floorplan pixel is.
type LocationConfig struct {
	Version        string  `yaml:"version" json:"version"`
	LastUpdated    string  `yaml:"lastUpdated" json:"lastUpdated"`
	Place          string  `yaml:"place" json:"place"`
	Building       string  `yaml:"building" json:"building"`
	Floor          string  `yaml:"floor" json:"floor"`
	MetersPerPixel float64 `yaml:"meters_per_pixel" json:"meters_per_pixel"`
}

// LoadLocationConfig loads the location file at path. The result is not
// validated so that a partially filled file can still be inspected.
func LoadLocationConfig(path string) (*LocationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading location config file: %w", err)
	}
	return ParseLocationConfig(data)
}

// ParseLocationConfig parses location YAML.
func ParseLocationConfig(data []byte) (*LocationConfig, error) {
	var cfg LocationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	return &cfg, nil
}

// Validate checks that the location is complete.
func (c *LocationConfig) Validate() error {
	if c.Place == "" || c.Building == "" || c.Floor == "" {
		return fmt.Errorf("%w: missing required fields (place, building, floor)", ErrInvalidLocation)
	}
	if !(c.MetersPerPixel > 0) {
		return fmt.Errorf("%w: meters_per_pixel must be positive, got %g", ErrInvalidLocation, c.MetersPerPixel)
	}
	return nil
}

// Location returns the backend location key.
func (c *LocationConfig) Location() backend.Location {
	return backend.Location{Place: c.Place, Building: c.Building, Floor: c.Floor}
}

// ToYAML marshals the config.
func (c *LocationConfig) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("error marshalling location config: %w", err)
	}
	return data, nil
}
