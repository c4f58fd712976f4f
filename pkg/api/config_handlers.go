package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/unav/navclient/pkg/config"
	customlog "github.com/unav/navclient/pkg/log"
	"github.com/unav/navclient/services"
)

// ConfigHandler serves the operational location configuration.
type ConfigHandler struct {
	locationService services.LocationService
	logger          customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(locationService services.LocationService, logger customlog.Logger) *ConfigHandler {
	if locationService == nil {
		panic("LocationService cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{
		locationService: locationService,
		logger:          logger,
	}
}

// RegisterConfigRoutes registers the configuration API endpoints with the Fiber app.
func RegisterConfigRoutes(app *fiber.App, locationService services.LocationService, logger customlog.Logger) {
	h := NewConfigHandler(locationService, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/location", h.handleGetLocation)
	apiGroup.Put("/location", h.handleUpdateLocation)

	logger.Infof("Registered location configuration API endpoints under /api/v1/config")
}

// handleGetLocation returns the location file as YAML.
func (h *ConfigHandler) handleGetLocation(c *fiber.Ctx) error {
	yamlData, err := h.locationService.GetCurrentConfigYAML()
	if err != nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Location configuration not available: %v", err),
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateLocation replaces the location with the YAML request body.
func (h *ConfigHandler) handleUpdateLocation(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	if err := h.locationService.UpdateConfig(body); err != nil {
		if errors.Is(err, config.ErrInvalidLocation) {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Location update failed: %v", err),
			})
		}
		h.logger.Errorf("Failed to update location configuration: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Internal server error during location update: %v", err),
		})
	}

	cfg := h.locationService.GetCurrentConfig()
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message":  "Location updated",
		"location": cfg,
	})
}
