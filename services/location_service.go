package services

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/unav/navclient/pkg/config"
	customlog "github.com/unav/navclient/pkg/log"
)

// LocationListener is told about every accepted location change.
type LocationListener interface {
	LocationChanged(cfg config.LocationConfig)
}

// LocationService manages the operational location configuration.
type LocationService interface {
	LoadConfig() error
	GetCurrentConfig() *config.LocationConfig
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(newConfigYAML []byte) error
	PersistConfig(yamlData []byte) error
	SetListener(l LocationListener)
}

type locationService struct {
	path          string
	logger        customlog.Logger
	listener      LocationListener
	currentConfig *config.LocationConfig
	mu            sync.RWMutex
}

// NewLocationService creates a LocationService backed by the file at path.
// A missing or invalid file is logged and leaves the service without a
// location until one is provided through UpdateConfig.
func NewLocationService(path string, logger customlog.Logger) (LocationService, error) {
	if path == "" {
		return nil, fmt.Errorf("location configuration path cannot be empty")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	service := &locationService{
		path:   path,
		logger: logger,
	}

	if err := service.LoadConfig(); err != nil {
		logger.Warnf("Initial load of location config '%s' failed: %v. Service created without a location.", path, err)
		return service, nil
	}

	logger.Infof("LocationService initialized for path: %s", path)
	return service, nil
}

// LoadConfig reads the location file from disk.
func (s *locationService) LoadConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading location configuration from: %s", s.path)
	cfg, err := config.LoadLocationConfig(s.path)
	if err != nil {
		s.currentConfig = nil
		return err
	}
	if err := cfg.Validate(); err != nil {
		s.currentConfig = nil
		return fmt.Errorf("location config '%s': %w", s.path, err)
	}

	s.currentConfig = cfg
	s.logger.Infof("Loaded location %s (%.4f m/px)", cfg.Location(), cfg.MetersPerPixel)
	return nil
}

// GetCurrentConfig returns a copy of the loaded location, or nil.
func (s *locationService) GetCurrentConfig() *config.LocationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentConfig == nil {
		return nil
	}
	cp := *s.currentConfig
	return &cp
}

// GetCurrentConfigYAML returns the raw file content.
func (s *locationService) GetCurrentConfigYAML() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Errorf("Error reading location config file '%s': %v", s.path, err)
		return nil, fmt.Errorf("error reading location config file '%s': %w", s.path, err)
	}
	return data, nil
}

// UpdateConfig validates, persists and applies new location YAML, then
// notifies the listener.
func (s *locationService) UpdateConfig(newConfigYAML []byte) error {
	s.mu.Lock()

	newCfg, err := config.ParseLocationConfig(newConfigYAML)
	if err != nil {
		s.mu.Unlock()
		s.logger.Errorf("Failed to parse provided location YAML: %v", err)
		return fmt.Errorf("invalid YAML format: %w", err)
	}
	if err := newCfg.Validate(); err != nil {
		s.mu.Unlock()
		s.logger.Errorf("Location validation failed: %v", err)
		return err
	}
	if newCfg.LastUpdated == "" {
		newCfg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	}

	if err := s.persistConfigUnlocked(newConfigYAML); err != nil {
		s.mu.Unlock()
		return err
	}

	old := "none"
	if s.currentConfig != nil {
		old = s.currentConfig.Location().String()
	}
	s.currentConfig = newCfg
	listener := s.listener
	applied := *newCfg
	s.mu.Unlock()

	s.logger.Infof("Location updated: %s -> %s", old, applied.Location())

	if listener != nil {
		listener.LocationChanged(applied)
	}
	return nil
}

// PersistConfig writes yamlData to the location file.
func (s *locationService) PersistConfig(yamlData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistConfigUnlocked(yamlData)
}

func (s *locationService) persistConfigUnlocked(yamlData []byte) error {
	if err := os.WriteFile(s.path, yamlData, 0644); err != nil {
		s.logger.Errorf("Error writing location config file '%s': %v", s.path, err)
		return fmt.Errorf("error writing location config file '%s': %w", s.path, err)
	}
	s.logger.Debugf("Persisted location configuration to %s", s.path)
	return nil
}

// SetListener installs the change listener.
func (s *locationService) SetListener(l LocationListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}
